package markov

import (
	"strings"

	"golang.org/x/text/cases"
)

// Normalizer maps token text to the key it is compared by. Two windows are the
// same chain state when their tokens normalize to the same keys.
type Normalizer interface {
	Normalize(text string) string
}

// NormalizerFunc adapts a plain function to the Normalizer interface.
type NormalizerFunc func(text string) string

// Normalize calls f(text).
func (f NormalizerFunc) Normalize(text string) string { return f(text) }

// Normalizer names used in exports and configuration. Normalizers that are
// not one of these export as NormalizerCustom and must be supplied again when
// the model is loaded.
const (
	NormalizerFold     = "fold"
	NormalizerTrim     = "trim"
	NormalizerIdentity = "identity"
	NormalizerCustom   = "custom"
)

type namedNormalizer struct {
	name string
	fn   func(string) string
}

func (n namedNormalizer) Normalize(text string) string { return n.fn(text) }

var (
	// FoldNormalizer trims surrounding whitespace and applies Unicode case
	// folding. It is the default.
	FoldNormalizer Normalizer = namedNormalizer{NormalizerFold, func(text string) string {
		// A Caser carries state, so each call gets its own.
		return cases.Fold().String(strings.TrimSpace(text))
	}}

	// TrimNormalizer only trims surrounding whitespace; case is significant.
	TrimNormalizer Normalizer = namedNormalizer{NormalizerTrim, strings.TrimSpace}

	// IdentityNormalizer compares token text exactly, leading whitespace included.
	IdentityNormalizer Normalizer = namedNormalizer{NormalizerIdentity, func(text string) string { return text }}
)

// NormalizerByName resolves a configured normalizer name. The empty string
// selects the default.
func NormalizerByName(name string) (Normalizer, bool) {
	switch strings.ToLower(name) {
	case "", NormalizerFold:
		return FoldNormalizer, true
	case NormalizerTrim:
		return TrimNormalizer, true
	case NormalizerIdentity:
		return IdentityNormalizer, true
	default:
		return nil, false
	}
}

func normalizerName(n Normalizer) string {
	if named, ok := n.(namedNormalizer); ok {
		return named.name
	}
	return NormalizerCustom
}

// foldText is used for trigger matching, which is always case-insensitive.
func foldText(text string) string {
	return cases.Fold().String(text)
}
