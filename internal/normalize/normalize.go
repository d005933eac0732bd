package normalize

import (
	"strings"
	"unicode"
)

// Brand lowercases s and strips every whitespace rune. Punctuation is kept:
// brand names vary in spacing far more than in punctuation.
func Brand(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Branch lowercases s and keeps only letters and digits, so "St. Johns" and
// "St Johns" normalise to the same token.
func Branch(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ListingTitle applies the brand rule to an upstream listing title.
func ListingTitle(s string) string {
	return Brand(s)
}

// Signature holds the normalised brand and branch tokens of one task.
type Signature struct {
	Brand  string
	Branch string
}

// NewSignature normalises a brand/branch pair once so every listing of a task
// can be tested against it.
func NewSignature(brand, branch string) Signature {
	return Signature{Brand: Brand(brand), Branch: Branch(branch)}
}

// Match reports whether title contains both tokens, in any order and position.
func (s Signature) Match(title string) bool {
	t := ListingTitle(title)
	return strings.Contains(t, s.Brand) && strings.Contains(t, s.Branch)
}

// Matches is the one-shot form of NewSignature(brand, branch).Match(title).
func Matches(title, brand, branch string) bool {
	return NewSignature(brand, branch).Match(title)
}
