package model

import (
	"strings"
	"unicode"
)

// Query identifies what a session looks up.
type Query struct {
	// Identifier is a license plate, or a free-text search term when FreeText is set.
	Identifier string
	FreeText   bool
	// Known marks a lookup of an already tracked car.
	Known bool
}

// NormalizedIdentifier returns the identifier as it goes on the wire.
func (q Query) NormalizedIdentifier() string {
	if q.FreeText {
		return strings.Join(strings.Fields(q.Identifier), " ")
	}
	return NormalizePlate(q.Identifier)
}

// NormalizePlate uppercases a license plate and strips separator characters.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range plate {
		if isPlateSeparator(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func isPlateSeparator(r rune) bool {
	switch r {
	case '-', '.', '_', '/':
		return true
	}
	return unicode.IsSpace(r)
}
