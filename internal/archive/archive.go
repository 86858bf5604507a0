package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"labhub/internal/common"
	"labhub/internal/observability"
	"labhub/internal/quality"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"
)

// Archive member names
const (
	RowsFile     = "rows.json"
	ReportFile   = "report.json"
	MetadataFile = "metadata.json"
)

// Metadata describes one archived quarantine batch
type Metadata struct {
	BatchID      string            `json:"batch_id"`
	RunID        string            `json:"run_id"`
	CreatedAt    time.Time         `json:"created_at"`
	Rows         int               `json:"rows"`
	FailedChecks []string          `json:"failed_checks"`
	Checksums    map[string]string `json:"checksums"`
	Path         string            `json:"-"`
	Size         int64             `json:"-"`
	Location     string            `json:"-"`
}

// Contents is a verified archive read back from disk
type Contents struct {
	Metadata Metadata
	Rows     json.RawMessage
	Report   json.RawMessage
}

// Uploader copies a finished archive to remote storage and returns its
// location
type Uploader interface {
	Upload(ctx context.Context, key, path string) (string, error)
}

// Archiver writes quarantine batches as gzip-compressed tarballs
type Archiver struct {
	dir      string
	uploader Uploader
	logger   *observability.Logger
	now      func() time.Time
}

// NewArchiver creates the archive directory if needed. uploader may be nil.
func NewArchiver(dir string, uploader Uploader, logger *observability.Logger) (*Archiver, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	cleaned, err := common.EnsureDir(dir, common.DirPermissionSecure)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to create archive directory").
			WithContext("dir", dir)
	}
	return &Archiver{
		dir:      cleaned,
		uploader: uploader,
		logger:   logger.WithField("component", "archive"),
		now:      time.Now,
	}, nil
}

// Dir returns the archive directory
func (a *Archiver) Dir() string {
	return a.dir
}

// Archive writes <batch id>.tar.gz holding the rows, the gate report and a
// metadata file with a checksum of each, then uploads it when an uploader
// is configured. report may be nil.
func (a *Archiver) Archive(ctx context.Context, batch warehouse.Batch, report *quality.Report) (*Metadata, error) {
	rows, err := json.MarshalIndent(batch.Rows, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeArchiveFailed, "failed to encode quarantined rows")
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeArchiveFailed, "failed to encode quality report")
	}

	meta := &Metadata{
		BatchID:      batch.ID,
		RunID:        batch.RunID,
		CreatedAt:    a.now().UTC(),
		Rows:         len(batch.Rows),
		FailedChecks: batch.FailedChecks,
		Checksums: map[string]string{
			RowsFile:   checksum(rows),
			ReportFile: checksum(reportJSON),
		},
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeArchiveFailed, "failed to encode archive metadata")
	}

	path, err := common.JoinPath(a.dir, batch.ID+".tar.gz")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid batch id for archive name").
			WithContext("batch_id", batch.ID)
	}

	if err := writeTarball(path, meta.CreatedAt, []member{
		{RowsFile, rows},
		{ReportFile, reportJSON},
		{MetadataFile, metaJSON},
	}); err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeArchiveFailed, "failed to write quarantine archive").
			WithContext("path", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeArchiveFailed, "failed to stat quarantine archive")
	}
	meta.Path = path
	meta.Size = info.Size()

	if a.uploader != nil {
		location, err := a.uploader.Upload(ctx, filepath.Base(path), path)
		if err != nil {
			return meta, apperrors.Wrap(err, apperrors.ErrCodeArchiveFailed, "failed to upload quarantine archive").
				WithContext("path", path).
				AsRecoverable()
		}
		meta.Location = location
	}

	a.logger.InfoWithFields("Quarantine batch archived", map[string]interface{}{
		"batch_id": batch.ID,
		"rows":     meta.Rows,
		"path":     path,
		"size":     meta.Size,
		"location": meta.Location,
	})
	return meta, nil
}

// Read opens an archive and verifies every checksum in its metadata
func Read(path string) (*Contents, error) {
	cleaned, err := common.CleanPath(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid archive path")
	}

	f, err := os.Open(cleaned) // #nosec G304 - path is cleaned
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrCodeFileNotFound, "archive not found").WithContext("path", cleaned)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFilePermission, "failed to open archive")
	}
	defer f.Close()

	members, err := readTarball(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileCorrupted, "failed to read archive").
			WithContext("path", cleaned)
	}

	rawMeta, ok := members[MetadataFile]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeFileCorrupted, "archive has no metadata").WithContext("path", cleaned)
	}
	contents := &Contents{Rows: members[RowsFile], Report: members[ReportFile]}
	if err := json.Unmarshal(rawMeta, &contents.Metadata); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileCorrupted, "invalid archive metadata").
			WithContext("path", cleaned)
	}

	for name, want := range contents.Metadata.Checksums {
		data, ok := members[name]
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeIntegrityCheckFailed, "archive member missing").
				WithContext("member", name)
		}
		if got := checksum(data); got != want {
			return nil, apperrors.New(apperrors.ErrCodeIntegrityCheckFailed, "archive checksum mismatch").
				WithContext("member", name).
				WithContext("expected", want).
				WithContext("actual", got)
		}
	}

	contents.Metadata.Path = cleaned
	if info, err := f.Stat(); err == nil {
		contents.Metadata.Size = info.Size()
	}
	return contents, nil
}

// List returns the archive paths in the directory, sorted by name
func (a *Archiver) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "failed to list archives")
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tar.gz") {
			paths = append(paths, filepath.Join(a.dir, e.Name()))
		}
	}
	return paths, nil
}

type member struct {
	name string
	data []byte
}

func writeTarball(path string, modTime time.Time, members []member) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, common.FilePermissionSecure) // #nosec G304 - path is validated
	if err != nil {
		return err
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		header := &tar.Header{
			Name:     m.name,
			Size:     int64(len(m.data)),
			Mode:     common.FilePermissionSecure,
			ModTime:  modTime,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := tw.Write(m.data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return file.Close()
}

// maxMemberSize bounds how much of one member is read into memory
const maxMemberSize = 512 << 20

func readTarball(r io.Reader) (map[string][]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	members := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Size > maxMemberSize {
			return nil, fmt.Errorf("member %s is too large (%d bytes)", header.Name, header.Size)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}
		members[header.Name] = buf.Bytes()
	}
	return members, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
