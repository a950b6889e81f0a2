// Package ident normalizes arbitrary names into identifiers that are safe on
// both the SQL Server and ClickHouse side. It is shared with the legacy
// file-based ingestion paths, which sanitize CSV headers with the same rules.
package ident

import (
	"regexp"
	"strings"
)

// MaxLength is the hard cap applied to sanitized identifiers.
const MaxLength = 120

var (
	disallowed     = regexp.MustCompile(`[^A-Za-z0-9_.\-]+`)
	underscoreRuns = regexp.MustCompile(`_{2,}`)
)

// Sanitize maps s onto the alphabet [A-Za-z0-9_.-], collapses runs of
// underscores, strips leading and trailing underscores and truncates the
// result to MaxLength characters. An empty result becomes "NA".
//
// Sanitize is idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	s = disallowed.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > MaxLength {
		// All remaining characters are single-byte, so slicing is safe.
		s = strings.Trim(s[:MaxLength], "_")
	}
	if s == "" {
		return "NA"
	}
	return s
}
