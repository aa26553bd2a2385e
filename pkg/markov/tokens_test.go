package markov

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultTokenizer(t *testing.T) {
	testCases := []struct {
		name      string
		tokenizer *DefaultTokenizer
		input     string
		expected  []Token
	}{
		{
			name:      "Empty input",
			tokenizer: NewDefaultTokenizer(),
			input:     "",
			expected:  []Token{Start()},
		},
		{
			name:      "Whitespace leads the next word",
			tokenizer: NewDefaultTokenizer(),
			input:     "hello world",
			expected:  []Token{Start(), Text("hello"), Text(" world")},
		},
		{
			name:      "Trailing whitespace is kept",
			tokenizer: NewDefaultTokenizer(),
			input:     " a  b ",
			expected:  []Token{Start(), Text(" a"), Text("  b"), Text(" ")},
		},
		{
			name:      "Camel case is split",
			tokenizer: NewDefaultTokenizer(),
			input:     "helloWorld",
			expected:  []Token{Start(), Text("hello"), Text("World")},
		},
		{
			name:      "Camel case split disabled",
			tokenizer: NewDefaultTokenizer(WithCamelCaseSplit(false)),
			input:     "helloWorld",
			expected:  []Token{Start(), Text("helloWorld")},
		},
		{
			name:      "Boundary markers stand alone",
			tokenizer: NewDefaultTokenizer(),
			input:     "what?! a (b)",
			expected:  []Token{Start(), Text("what"), Text("?"), Text("!"), Text(" a"), Text(" ("), Text("b"), Text(")")},
		},
		{
			name:      "Custom boundary markers",
			tokenizer: NewDefaultTokenizer(WithBoundaryMarkers(",")),
			input:     "a,b?",
			expected:  []Token{Start(), Text("a"), Text(","), Text("b?")},
		},
		{
			name:      "Newlines",
			tokenizer: NewDefaultTokenizer(),
			input:     "a\nb",
			expected:  []Token{Start(), Text("a"), Text("\nb")},
		},
		{
			name:      "Unicode words",
			tokenizer: NewDefaultTokenizer(),
			input:     "Ünïcödé straße",
			expected:  []Token{Start(), Text("Ünïcödé"), Text(" straße")},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.tokenizer.Tokenize(tc.input)
			if diff := cmp.Diff(tc.expected, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tc.input, diff)
			}
		})
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"hello world",
		"  leading and trailing  ",
		"camelCaseWordsHere",
		"multi\nline\r\n\ttext",
		"emoji 🙂 and ünïcödé",
		"punctuation/(-_?!)everywhere!!",
		"invalid \xff utf8",
		"HTTPServer handles XMLHttpRequest",
	}

	tokenizer := NewDefaultTokenizer()
	for _, input := range inputs {
		tokens := tokenizer.Tokenize(input)
		if tokens[0] != Start() {
			t.Errorf("Tokenize(%q) does not begin with the start marker", input)
		}
		for _, tok := range tokens[1:] {
			if !tok.IsText() || tok.Text == "" {
				t.Errorf("Tokenize(%q) produced an invalid token %#v", input, tok)
			}
		}
		if got := Detokenize(tokens); got != input {
			t.Errorf("Detokenize(Tokenize(%q)) = %q", input, got)
		}
	}
}

func TestTokenString(t *testing.T) {
	if Start().String() != StartTokenText || End().String() != EndTokenText {
		t.Errorf("markers render as %q and %q", Start().String(), End().String())
	}
	w := Window{Start(), Text("hi"), Text(" there"), End()}
	if got := w.String(); got != "hi there" {
		t.Errorf("Window.String() = %q, want %q", got, "hi there")
	}
}
