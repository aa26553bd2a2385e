package markov

import "strings"

// TokenKind distinguishes regular text tokens from the markers that frame a
// message.
type TokenKind uint8

const (
	// TextToken is a regular fragment of text.
	TextToken TokenKind = iota
	// StartToken marks the beginning of a message. It renders as "".
	StartToken
	// EndToken marks the end of a message. It only ever appears as a
	// successor in the transition table, never inside a window.
	EndToken
)

const (
	// StartTokenID is the reserved intern id of the start-of-message marker.
	StartTokenID = 0
	// EndTokenID is the reserved intern id of the end-of-message marker.
	EndTokenID = 1
	// StartTokenText is the reserved text for the start marker in exports.
	StartTokenText = "<SOC>"
	// EndTokenText is the reserved text for the end marker in exports.
	EndTokenText = "<EOC>"
)

// Token represents a single tokenized unit of text. Text carries any leading
// whitespace so that concatenating a token sequence reproduces its source.
type Token struct {
	Text string
	Kind TokenKind
}

// Start returns the start-of-message marker.
func Start() Token { return Token{Kind: StartToken} }

// End returns the end-of-message marker.
func End() Token { return Token{Kind: EndToken} }

// Text returns a regular text token.
func Text(s string) Token { return Token{Text: s} }

// IsText reports whether t is a regular text token.
func (t Token) IsText() bool { return t.Kind == TextToken }

func (t Token) String() string {
	switch t.Kind {
	case StartToken:
		return StartTokenText
	case EndToken:
		return EndTokenText
	default:
		return t.Text
	}
}

// Window is an ordered run of tokens used as the state of the chain.
type Window []Token

// String renders the window the way it would appear in a reply.
func (w Window) String() string {
	return Detokenize(w)
}

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens. This allows the chain logic to be independent of the specific
// tokenization strategy.
type Tokenizer interface {
	// Tokenize splits s into tokens, prefixed with a start marker. Joining the
	// result with Detokenize must reproduce s exactly.
	Tokenize(s string) []Token
}

// Detokenize joins tokens back into text. Markers render as the empty string.
func Detokenize(tokens []Token) string {
	var builder strings.Builder
	for _, t := range tokens {
		if t.Kind == TextToken {
			builder.WriteString(t.Text)
		}
	}
	return builder.String()
}

// TokenizeAll runs the tokenizer over every message of a corpus.
func TokenizeAll(tokenizer Tokenizer, messages []string) [][]Token {
	out := make([][]Token, 0, len(messages))
	for _, m := range messages {
		out = append(out, tokenizer.Tokenize(m))
	}
	return out
}
