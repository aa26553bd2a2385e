// Package corpus loads training messages from disk and cleans them up before
// they reach the chain builder.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxLineSize bounds a single line of a line-delimited corpus.
const maxLineSize = 1024 * 1024

// Message is a single corpus entry. Author is optional and only used for
// exclusion.
type Message struct {
	Author  string `json:"author,omitempty"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts either a plain string or an object with author and
// content fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		m.Author = ""
		return json.Unmarshal(data, &m.Content)
	}
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	return nil
}

// Load reads the messages stored at path. Files ending in .json must hold a
// JSON array of strings or of {"author", "content"} objects; any other file is
// read as one message per non-empty line.
func Load(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var messages []Message
		if err := json.NewDecoder(f).Decode(&messages); err != nil {
			return nil, fmt.Errorf("failed to decode corpus '%s': %w", path, err)
		}
		return messages, nil
	}

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		messages = append(messages, Message{Content: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus '%s': %w", path, err)
	}
	return messages, nil
}
