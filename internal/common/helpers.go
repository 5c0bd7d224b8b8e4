// Package common contains small utilities used across the project:
// business time zone handling, location name normalization, formatting.
package common

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LoadBusinessLocation loads the IANA zone all business-hour rules are
// expressed in. There is no fallback: a wrong zone shifts every release time.
func LoadBusinessLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("business timezone is empty")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown business timezone %q: %w", name, err)
	}
	return loc, nil
}

// NormalizeLocationName lowercases a location name, strips accents and
// collapses whitespace.
//
// Examples:
//
//	NormalizeLocationName("  Plaza  Río ")  → "plaza rio"
//	NormalizeLocationName("CENTRO-Norte")   → "centro-norte"
func NormalizeLocationName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

// LocationMatches reports whether a location name contains any of the
// patterns after normalization on both sides.
func LocationMatches(location string, patterns []string) bool {
	name := NormalizeLocationName(location)
	if name == "" {
		return false
	}
	for _, p := range patterns {
		p = NormalizeLocationName(p)
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// FormatDateTime formats t as "02.01.2006 15:04" in the given zone.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}
