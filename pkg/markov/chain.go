package markov

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

var (
	// ErrInvalidOrder is returned when a chain is built with an order below 1.
	ErrInvalidOrder = errors.New("markov: order must be at least 1")
	// ErrEmptyCorpus is returned when a chain would be built without any
	// chain starts, which would leave nothing to generate from.
	ErrEmptyCorpus = errors.New("markov: corpus contains no messages")
)

// transition holds every observed successor of one normalized prefix.
type transition struct {
	prefix []int // normalized ids
	next   *WeightedSet[int]
}

// Chain is an n-gram model over tokens. It is built once by Build (or loaded
// from an export) and is read-only afterwards, so a *Chain can be shared by
// any number of goroutines.
//
// Tokens are interned twice: every distinct surface token gets a token id, and
// every distinct normalized form gets a key id. Windows are stored as strings
// of space separated ids.
type Chain struct {
	order      int
	normalizer Normalizer

	vocab    []Token       // token id -> surface token
	vocabIDs map[Token]int // surface token -> token id
	keyOf    []int         // token id -> key id
	keys     []string      // key id -> normalized text
	keyIDs   map[string]int

	starts      *WeightedSet[string] // token id window keys
	startByNorm map[string]string    // key id window -> first token id window seen

	transitions map[string]*transition // key id window -> successors
	prefixOrder []string

	logger *slog.Logger
}

func newChain(order int, normalizer Normalizer, logger *slog.Logger) *Chain {
	c := &Chain{
		order:       order,
		normalizer:  normalizer,
		vocab:       []Token{Start(), End()},
		vocabIDs:    make(map[Token]int),
		keyOf:       []int{StartTokenID, EndTokenID},
		keys:        []string{StartTokenText, EndTokenText},
		keyIDs:      make(map[string]int),
		starts:      NewWeightedSet[string](),
		startByNorm: make(map[string]string),
		transitions: make(map[string]*transition),
		logger:      logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// intern returns the token id of t, adding it to the vocabulary if needed.
func (c *Chain) intern(t Token) int {
	switch t.Kind {
	case StartToken:
		return StartTokenID
	case EndToken:
		return EndTokenID
	}
	if id, ok := c.vocabIDs[t]; ok {
		return id
	}
	id := len(c.vocab)
	c.vocab = append(c.vocab, t)
	c.vocabIDs[t] = id

	norm := c.normalizer.Normalize(t.Text)
	keyID, ok := c.keyIDs[norm]
	if !ok {
		keyID = len(c.keys)
		c.keys = append(c.keys, norm)
		c.keyIDs[norm] = keyID
	}
	c.keyOf = append(c.keyOf, keyID)
	return id
}

// keyID returns the key id of t without modifying the chain.
func (c *Chain) keyID(t Token) (int, bool) {
	switch t.Kind {
	case StartToken:
		return StartTokenID, true
	case EndToken:
		return 0, false
	}
	if id, ok := c.vocabIDs[t]; ok {
		return c.keyOf[id], true
	}
	id, ok := c.keyIDs[c.normalizer.Normalize(t.Text)]
	return id, ok
}

// normalizedKey converts a window into its key id string. ok is false when a
// token was never seen in the corpus, in which case no state can match.
func (c *Chain) normalizedKey(w Window) (string, bool) {
	ids := make([]int, len(w))
	for i, t := range w {
		id, ok := c.keyID(t)
		if !ok {
			return "", false
		}
		ids[i] = id
	}
	return idsKey(ids), true
}

// surfaceKey converts a window into its token id string.
func (c *Chain) surfaceKey(w Window) (string, bool) {
	ids := make([]int, len(w))
	for i, t := range w {
		switch t.Kind {
		case StartToken:
			ids[i] = StartTokenID
		case EndToken:
			ids[i] = EndTokenID
		default:
			id, ok := c.vocabIDs[t]
			if !ok {
				return "", false
			}
			ids[i] = id
		}
	}
	return idsKey(ids), true
}

// decodeWindow turns a token id string back into tokens.
func (c *Chain) decodeWindow(key string) Window {
	if key == "" {
		return Window{}
	}
	parts := strings.Split(key, " ")
	w := make(Window, 0, len(parts))
	for _, p := range parts {
		id, _ := strconv.Atoi(p)
		w = append(w, c.vocab[id])
	}
	return w
}

func idsKey(ids []int) string {
	var keyBuf []byte
	for j, id := range ids {
		if j > 0 {
			keyBuf = append(keyBuf, ' ')
		}
		keyBuf = strconv.AppendInt(keyBuf, int64(id), 10)
	}
	return string(keyBuf)
}

func parseIDs(key string) []int {
	if key == "" {
		return nil
	}
	parts := strings.Split(key, " ")
	ids := make([]int, len(parts))
	for i, p := range parts {
		ids[i], _ = strconv.Atoi(p)
	}
	return ids
}

// Order returns the window length N.
func (c *Chain) Order() int { return c.order }

// Normalizer returns the strategy windows are compared by.
func (c *Chain) Normalizer() Normalizer { return c.normalizer }

// HasStart reports whether w matches a recorded chain start after
// normalization.
func (c *Chain) HasStart(w Window) bool {
	_, ok := c.MatchStart(w)
	return ok
}

// MatchStart returns the recorded chain start that w normalizes to, with the
// casing it had in the corpus.
func (c *Chain) MatchStart(w Window) (Window, bool) {
	key, ok := c.normalizedKey(w)
	if !ok {
		return nil, false
	}
	surface, ok := c.startByNorm[key]
	if !ok {
		return nil, false
	}
	return c.decodeWindow(surface), true
}

// StartCount returns how often exactly w (surface text, not normalized) was
// recorded as a chain start.
func (c *Chain) StartCount(w Window) int {
	key, ok := c.surfaceKey(w)
	if !ok {
		return 0
	}
	return c.starts.Count(key)
}

// WeightedWindow is a chain start and its weight.
type WeightedWindow struct {
	Window Window
	Count  int
}

// Starts lists the chain starts in the order they were first recorded.
func (c *Chain) Starts() []WeightedWindow {
	out := make([]WeightedWindow, 0, c.starts.Len())
	c.starts.Each(func(key string, count int) {
		out = append(out, WeightedWindow{Window: c.decodeWindow(key), Count: count})
	})
	return out
}

// Successor is a token observed after a window and how often it was seen.
type Successor struct {
	Token Token
	Count int
}

// Successors returns what may follow w, in the order first observed. It
// returns nil when w has no recorded transitions.
func (c *Chain) Successors(w Window) []Successor {
	key, ok := c.normalizedKey(w)
	if !ok {
		return nil
	}
	tr, ok := c.transitions[key]
	if !ok {
		return nil
	}
	out := make([]Successor, 0, tr.next.Len())
	tr.next.Each(func(id int, count int) {
		out = append(out, Successor{Token: c.vocab[id], Count: count})
	})
	return out
}
