// Package taxon normalizes scientific names returned by GBIF.
package taxon

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	parentheticalRe = regexp.MustCompile(`\s*\([^)]*\)`)
	// trailing author run such as "Linnaeus", "L.", "Lacépède", "Smith & Jones"
	// or "Bloch et Schneider"; letters must be NFC so accents count as \p{L}
	trailingAuthorsRe = regexp.MustCompile(`\s+(?:\p{Lu}[\p{L}.-]+\s*(?:&|et)?\s*)+$`)
	authorParticleRe  = regexp.MustCompile(`\s+(?:van|de|der|von)\s+\p{Lu}\p{L}*`)
)

// CleanScientificName strips authorship and citation noise from a GBIF
// scientific name:
//
//	"Panthera tigris (Linnaeus, 1758)" -> "Panthera tigris"
//	"Homo sapiens Linnaeus"            -> "Homo sapiens"
//
// The result is stable under repeated application.
func CleanScientificName(raw string) string {
	if raw == "" {
		return ""
	}

	name := norm.NFC.String(raw)
	name = parentheticalRe.ReplaceAllString(name, "")
	if i := strings.IndexByte(name, ','); i >= 0 {
		name = name[:i]
	}
	name = trailingAuthorsRe.ReplaceAllString(name, "")
	if loc := authorParticleRe.FindStringIndex(name); loc != nil {
		name = name[:loc[0]] + name[loc[1]:]
	}

	return strings.TrimSpace(name)
}

// SameName reports whether two raw names clean to the same name, ignoring case.
func SameName(a, b string) bool {
	ca, cb := CleanScientificName(a), CleanScientificName(b)
	return ca != "" && strings.EqualFold(ca, cb)
}
