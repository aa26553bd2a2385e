package markov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/natefinch/atomic"
)

// ExportedModel is the serializable representation of a trained chain, used
// for JSON export/import and as the row source for the SQLite store. Tokens
// are interned to small integer ids; prefixes refer to normalized key ids.
type ExportedModel struct {
	Name       string          `json:"name"`
	Order      int             `json:"order"`
	Normalizer string          `json:"normalizer"`
	Vocabulary []string        `json:"vocabulary"` // token_id -> token_text
	Keys       []string        `json:"keys"`       // key_id -> normalized text
	Starts     []ExportedStart `json:"starts"`
	Chains     []ExportedChain `json:"chains"`

	// RawVocabulary and RawKeys carry, by id, entries that are not valid
	// UTF-8 and so cannot travel as JSON strings. The matching Vocabulary and
	// Keys entries hold a readable stand-in.
	RawVocabulary map[int][]byte `json:"raw_vocabulary,omitempty"`
	RawKeys       map[int][]byte `json:"raw_keys,omitempty"`
}

// escapeInvalidText moves entries that are not valid UTF-8 into the raw tables.
func (m *ExportedModel) escapeInvalidText() {
	m.RawVocabulary = escapeTexts(m.Vocabulary)
	m.RawKeys = escapeTexts(m.Keys)
}

func escapeTexts(texts []string) map[int][]byte {
	var raw map[int][]byte
	for id, text := range texts {
		if utf8.ValidString(text) {
			continue
		}
		if raw == nil {
			raw = make(map[int][]byte)
		}
		raw[id] = []byte(text)
		texts[id] = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return raw
}

// restoreRawText puts the raw tables back in place of their stand-ins.
func (m *ExportedModel) restoreRawText() error {
	if err := restoreTexts(m.Vocabulary, m.RawVocabulary); err != nil {
		return fmt.Errorf("consistency error: raw vocabulary: %w", err)
	}
	if err := restoreTexts(m.Keys, m.RawKeys); err != nil {
		return fmt.Errorf("consistency error: raw keys: %w", err)
	}
	m.RawVocabulary, m.RawKeys = nil, nil
	return nil
}

func restoreTexts(texts []string, raw map[int][]byte) error {
	for id, b := range raw {
		if id < 0 || id >= len(texts) {
			return fmt.Errorf("id %d out of range", id)
		}
		texts[id] = string(b)
	}
	return nil
}

// ExportedStart is a chain start as a window of token ids.
type ExportedStart struct {
	TokenIDs  []int `json:"token_ids"`
	Frequency int   `json:"frequency"`
}

// ExportedChain is the serializable representation of a single link in the
// chain: a normalized prefix, the token that followed it and how often.
type ExportedChain struct {
	Prefix      []int `json:"prefix"`
	NextTokenID int   `json:"next_token_id"`
	Frequency   int   `json:"frequency"`
}

// Export flattens the chain into its serializable form. Starts, prefixes and
// successors are listed in the order they were first recorded, so importing
// the result yields a chain that samples identically under the same seed.
func (c *Chain) Export(name string) *ExportedModel {
	m := &ExportedModel{
		Name:       name,
		Order:      c.order,
		Normalizer: normalizerName(c.normalizer),
		Vocabulary: make([]string, len(c.vocab)),
		Keys:       append([]string(nil), c.keys...),
		Starts:     make([]ExportedStart, 0, c.starts.Len()),
	}
	for i, t := range c.vocab {
		m.Vocabulary[i] = t.String()
	}
	c.starts.Each(func(key string, count int) {
		m.Starts = append(m.Starts, ExportedStart{TokenIDs: parseIDs(key), Frequency: count})
	})
	for _, prefixKey := range c.prefixOrder {
		tr := c.transitions[prefixKey]
		tr.next.Each(func(id int, count int) {
			m.Chains = append(m.Chains, ExportedChain{Prefix: tr.prefix, NextTokenID: id, Frequency: count})
		})
	}
	return m
}

// FromExport rebuilds a chain from its serializable form. The normalizer is
// resolved from the export unless WithNormalizer is given; chains exported
// with a custom normalizer require it.
func FromExport(m *ExportedModel, opts ...BuildOption) (*Chain, error) {
	if m.Order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOrder, m.Order)
	}
	options := defaultBuildOptions()
	for _, opt := range opts {
		opt(options)
	}
	if !options.normalizerSet {
		n, ok := NormalizerByName(m.Normalizer)
		if !ok {
			return nil, fmt.Errorf("model '%s' uses normalizer '%s', which must be supplied with WithNormalizer", m.Name, m.Normalizer)
		}
		options.normalizer = n
	}

	if len(m.Vocabulary) < 2 || m.Vocabulary[StartTokenID] != StartTokenText || m.Vocabulary[EndTokenID] != EndTokenText {
		return nil, fmt.Errorf("consistency error: vocabulary of '%s' does not begin with the reserved markers", m.Name)
	}

	c := newChain(m.Order, options.normalizer, options.logger)
	for oldID, text := range m.Vocabulary[2:] {
		if id := c.intern(Text(text)); id != oldID+2 {
			return nil, fmt.Errorf("consistency error: duplicate vocabulary entry '%s'", text)
		}
	}

	keyMap := make([]int, len(m.Keys))
	for oldID, key := range m.Keys {
		if oldID < 2 {
			keyMap[oldID] = oldID
			continue
		}
		newID, ok := c.keyIDs[key]
		if !ok {
			return nil, fmt.Errorf("consistency error: key '%s' is not produced by normalizer '%s'", key, normalizerName(c.normalizer))
		}
		keyMap[oldID] = newID
	}

	for _, start := range m.Starts {
		if len(start.TokenIDs) == 0 || start.Frequency <= 0 {
			return nil, fmt.Errorf("consistency error: invalid chain start %v", start)
		}
		keys := make([]int, len(start.TokenIDs))
		for i, id := range start.TokenIDs {
			if id < 0 || id >= len(c.vocab) || id == EndTokenID {
				return nil, fmt.Errorf("consistency error: chain start token id %d not found in vocabulary", id)
			}
			keys[i] = c.keyOf[id]
		}
		c.recordStart(idsKey(start.TokenIDs), idsKey(keys), start.Frequency)
	}
	if c.starts.Total() == 0 {
		return nil, ErrEmptyCorpus
	}

	prefix := make([]int, m.Order)
	for _, link := range m.Chains {
		if len(link.Prefix) != m.Order {
			return nil, fmt.Errorf("consistency error: prefix %v does not have order %d", link.Prefix, m.Order)
		}
		for i, oldKey := range link.Prefix {
			if oldKey < 0 || oldKey >= len(keyMap) {
				return nil, fmt.Errorf("consistency error: key id %d in prefix not found in key table", oldKey)
			}
			prefix[i] = keyMap[oldKey]
		}
		if link.NextTokenID < 0 || link.NextTokenID >= len(c.vocab) || link.NextTokenID == StartTokenID {
			return nil, fmt.Errorf("consistency error: next token id %d not found in vocabulary", link.NextTokenID)
		}
		prefixKey := idsKey(prefix)
		tr, ok := c.transitions[prefixKey]
		if !ok {
			tr = &transition{prefix: append([]int(nil), prefix...), next: NewWeightedSet[int]()}
			c.transitions[prefixKey] = tr
			c.prefixOrder = append(c.prefixOrder, prefixKey)
		}
		tr.next.addCount(link.NextTokenID, link.Frequency)
	}

	return c, nil
}

// ExportChain serializes a chain into a JSON format and writes it to the
// provided io.Writer. This is useful for backups or for skipping a rebuild from
// raw text.
func ExportChain(w io.Writer, name string, c *Chain) error {
	exported := c.Export(name)
	exported.escapeInvalidText()

	c.logger.Info("Model exported",
		slog.String("model_name", name),
		slog.Int("vocab_items_exported", len(exported.Vocabulary)),
		slog.Int("starts_exported", len(exported.Starts)),
		slog.Int("chains_exported", len(exported.Chains)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportChain reads a JSON representation of a chain from an io.Reader and
// returns the rebuilt chain along with the name it was exported under.
func ImportChain(r io.Reader, opts ...BuildOption) (*Chain, string, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return nil, "", fmt.Errorf("failed to decode json model: %w", err)
	}
	if err := imported.restoreRawText(); err != nil {
		return nil, "", err
	}
	c, err := FromExport(&imported, opts...)
	if err != nil {
		return nil, "", err
	}

	c.logger.Info("Model imported successfully",
		slog.String("model_name", imported.Name),
		slog.Int("vocab_items", len(imported.Vocabulary)),
		slog.Int("starts", len(imported.Starts)),
		slog.Int("chains", len(imported.Chains)),
	)
	return c, imported.Name, nil
}

// WriteExportFile exports a chain to path. The file is replaced atomically, so
// a reader never observes a partial export.
func WriteExportFile(path, name string, c *Chain) error {
	var buf bytes.Buffer
	if err := ExportChain(&buf, name, c); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// ReadExportFile imports a chain previously written by WriteExportFile.
func ReadExportFile(path string, opts ...BuildOption) (*Chain, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return ImportChain(f, opts...)
}
