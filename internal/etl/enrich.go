package etl

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"labhub/internal/common"
	"labhub/internal/observability"
	apperrors "labhub/pkg/errors"
)

// DescriptionLookup maps ProductID to a free-text description. A nil
// lookup answers every product with NULL.
type DescriptionLookup struct {
	byID map[int64]string
}

// LoadDescriptions reads the enrichment CSV at path. The header must name
// ProductID and Description columns (any case, any position). An empty path
// or a missing file yields a nil lookup and a warning; an unreadable or
// malformed file is an error.
func LoadDescriptions(path string, logger *observability.Logger) (*DescriptionLookup, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if path == "" {
		logger.Warn("No product description file configured, descriptions will be NULL")
		return nil, nil
	}

	cleaned, err := common.CleanPath(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid description file path").
			WithContext("path", path)
	}

	f, err := os.Open(cleaned)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.WarnWithFields("Product description file not found, descriptions will be NULL",
				map[string]interface{}{"path": cleaned})
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFilePermission, "failed to open description file").
			WithContext("path", cleaned)
	}
	defer f.Close()

	lookup, err := ParseDescriptions(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileCorrupted, "malformed description file").
			WithContext("path", cleaned)
	}

	logger.InfoWithFields("Loaded product descriptions", map[string]interface{}{
		"path":     cleaned,
		"products": lookup.Len(),
	})
	return lookup, nil
}

// ParseDescriptions reads description CSV from r
func ParseDescriptions(r io.Reader) (*DescriptionLookup, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("file is empty")
		}
		return nil, err
	}

	idCol, descCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "productid":
			idCol = i
		case "description":
			descCol = i
		}
	}
	if idCol < 0 || descCol < 0 {
		return nil, fmt.Errorf("header must contain ProductID and Description columns, got %v", header)
	}

	lookup := &DescriptionLookup{byID: make(map[int64]string)}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) <= idCol || len(record) <= descCol {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(idCol, descCol)+1, len(record))
		}

		raw := strings.TrimSpace(record[idCol])
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid ProductID %q", line, raw)
		}
		lookup.byID[id] = record[descCol]
	}
	return lookup, nil
}

// Lookup returns the description of productID, NULL when unknown
func (d *DescriptionLookup) Lookup(productID int64) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	desc, ok := d.byID[productID]
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: desc, Valid: true}
}

// Len returns the number of described products
func (d *DescriptionLookup) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byID)
}
