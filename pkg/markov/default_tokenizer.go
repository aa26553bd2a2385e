package markov

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultBoundaryMarkers are the punctuation characters that always form a
// token of their own.
const DefaultBoundaryMarkers = "/()-_?!"

// DefaultTokenizer is the default implementation of the Tokenizer interface.
// It splits text into word parts: whitespace is carried as the leading part of
// the following token, camel-case words are split before the uppercase letter,
// and boundary markers stand alone. Its behavior can be customized with
// functional options.
type DefaultTokenizer struct {
	markers   string
	camelCase bool
}

// Option is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithBoundaryMarkers sets the characters that are split into their own token.
// Default: DefaultBoundaryMarkers
func WithBoundaryMarkers(markers string) Option {
	return func(t *DefaultTokenizer) {
		t.markers = markers
	}
}

// WithCamelCaseSplit sets whether a word is split before an uppercase letter
// that follows a lowercase one.
// Default: true
func WithCamelCaseSplit(split bool) Option {
	return func(t *DefaultTokenizer) {
		t.camelCase = split
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		markers:   DefaultBoundaryMarkers,
		camelCase: true,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Tokenize splits s into word parts. The first token is always the start
// marker; the remaining tokens cover s byte for byte.
func (t *DefaultTokenizer) Tokenize(s string) []Token {
	tokens := make([]Token, 1, 1+utf8.RuneCountInString(s)/3)
	tokens[0] = Start()

	tokenStart := 0
	inWord := false
	prevLower := false

	emit := func(end int) {
		if end > tokenStart {
			tokens = append(tokens, Text(s[tokenStart:end]))
			tokenStart = end
		}
	}

	for i, r := range s {
		switch {
		case unicode.IsSpace(r):
			// Whitespace belongs to whatever comes next.
			if inWord {
				emit(i)
				inWord = false
			}
		case strings.ContainsRune(t.markers, r):
			if inWord {
				emit(i)
			}
			_, size := utf8.DecodeRuneInString(s[i:])
			emit(i + size)
			inWord = false
			prevLower = false
		default:
			if inWord && t.camelCase && prevLower && unicode.IsUpper(r) {
				emit(i)
			}
			inWord = true
			prevLower = unicode.IsLower(r)
		}
	}
	emit(len(s))

	return tokens
}
