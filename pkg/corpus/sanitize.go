package corpus

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// SanitizerConfig holds the rules a Sanitizer applies.
type SanitizerConfig struct {
	// Trigger is removed from every message, ignoring case.
	Trigger string `json:"trigger" yaml:"trigger"`
	// ExcludedAuthors drops every message by these authors, ignoring case.
	ExcludedAuthors []string `json:"excluded_authors" yaml:"excluded_authors"`
	// ExcludedWords drops messages containing any of these substrings,
	// ignoring case.
	ExcludedWords []string `json:"excluded_words" yaml:"excluded_words"`
	// ExcludedPatterns drops messages matching any of these regular
	// expressions. Patterns are matched case-insensitively.
	ExcludedPatterns []string `json:"excluded_patterns" yaml:"excluded_patterns"`
	// Emotes maps emote ids found in embedded image markup to the text that
	// replaces them. Unknown emotes are removed.
	Emotes map[string]string `json:"emotes" yaml:"emotes"`
}

// DefaultSanitizerConfig returns the rules used when none are configured.
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		ExcludedAuthors: []string{"[deleted]"},
	}
}

type replacement struct {
	pattern *regexp.Regexp
	replace func(match []string) string
}

var (
	emotePattern     = regexp.MustCompile(`(?i)!?\[img\]\(emote\|.+?\|([0-9]+)\)`)
	gifPattern       = regexp.MustCompile(`(?i)!?\[gif\]\(.+?\)`)
	linkPattern      = regexp.MustCompile(`\[(.*?)\]\(.*?\)`)
	zeroWidthPattern = regexp.MustCompile(`(?i)&amp;#x200B;\s*`)
	ampPattern       = regexp.MustCompile(`(?i)&amp;`)
	ltPattern        = regexp.MustCompile(`(?i)&lt;`)
	gtPattern        = regexp.MustCompile(`(?i)&gt;`)
	newlinePattern   = regexp.MustCompile(`\n+`)
	spacesPattern    = regexp.MustCompile(`  +`)
)

// Sanitizer cleans up scraped messages: it strips bot mentions and markup,
// unescapes HTML entities, flattens whitespace and drops unwanted messages.
type Sanitizer struct {
	replacements    []replacement
	excludedAuthors map[string]struct{}
	excludedWords   []string
	excluded        []*regexp.Regexp
	logger          *slog.Logger
}

// NewSanitizer compiles cfg into a Sanitizer.
func NewSanitizer(cfg SanitizerConfig) (*Sanitizer, error) {
	s := &Sanitizer{
		excludedAuthors: make(map[string]struct{}, len(cfg.ExcludedAuthors)),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, author := range cfg.ExcludedAuthors {
		s.excludedAuthors[strings.ToLower(author)] = struct{}{}
	}
	for _, word := range cfg.ExcludedWords {
		if word != "" {
			s.excludedWords = append(s.excludedWords, strings.ToLower(word))
		}
	}
	for _, pattern := range cfg.ExcludedPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern '%s': %w", pattern, err)
		}
		s.excluded = append(s.excluded, re)
	}

	if cfg.Trigger != "" {
		trigger := regexp.MustCompile("(?i)" + regexp.QuoteMeta(cfg.Trigger))
		s.replacements = append(s.replacements, replacement{trigger, func([]string) string { return "" }})
	}

	emotes := cfg.Emotes
	s.replacements = append(s.replacements,
		replacement{emotePattern, func(m []string) string {
			if name, ok := emotes[m[1]]; ok {
				return " " + name + " "
			}
			return ""
		}},
		replacement{gifPattern, func([]string) string { return "" }},
		replacement{linkPattern, func(m []string) string { return m[1] }},
		replacement{zeroWidthPattern, func([]string) string { return "" }},
		replacement{ampPattern, func([]string) string { return "&" }},
		replacement{ltPattern, func([]string) string { return "<" }},
		replacement{gtPattern, func([]string) string { return ">" }},
		replacement{newlinePattern, func([]string) string { return " " }},
		replacement{spacesPattern, func([]string) string { return " " }},
	)

	return s, nil
}

// SetLogger sets the logger for the Sanitizer. By default, all logs are discarded.
func (s *Sanitizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Sanitize returns the cleaned text of m, or false when the message should not
// be used for training.
func (s *Sanitizer) Sanitize(m Message) (string, bool) {
	if s.Excluded(m) {
		return "", false
	}

	content := m.Content
	for _, r := range s.replacements {
		content = r.pattern.ReplaceAllStringFunc(content, func(match string) string {
			return r.replace(r.pattern.FindStringSubmatch(match))
		})
	}
	content = strings.TrimSpace(content)
	return content, content != ""
}

// Excluded reports whether m is dropped by the author, word or pattern rules.
func (s *Sanitizer) Excluded(m Message) bool {
	if _, ok := s.excludedAuthors[strings.ToLower(m.Author)]; ok && m.Author != "" {
		return true
	}
	lower := strings.ToLower(m.Content)
	for _, word := range s.excludedWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	for _, re := range s.excluded {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// SanitizeAll cleans every message and returns the texts that survive.
func (s *Sanitizer) SanitizeAll(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if text, ok := s.Sanitize(m); ok {
			out = append(out, text)
		}
	}
	s.logger.Info("Corpus sanitized",
		slog.Int("messages_in", len(messages)),
		slog.Int("messages_kept", len(out)),
		slog.Int("messages_dropped", len(messages)-len(out)),
	)
	return out
}
