package etl

import (
	"database/sql"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func trimmed(s sql.NullString) sql.NullString {
	if !s.Valid {
		return s
	}
	return sql.NullString{String: strings.TrimSpace(s.String), Valid: true}
}

// titled trims s and title-cases every word, lowering the rest of each word
func titled(s sql.NullString) sql.NullString {
	if !s.Valid {
		return s
	}
	// cases.Caser keeps state, so one per call
	caser := cases.Title(language.English)
	return sql.NullString{String: caser.String(strings.TrimSpace(s.String)), Valid: true}
}
