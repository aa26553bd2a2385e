package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/markovbaj/markovbaj/pkg/corpus"
	"github.com/markovbaj/markovbaj/pkg/markov"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the configuration file.
const (
	envUnrelatedChance = "MARKOVBAJ_UNRELATED_CHANCE"
	envTrigger         = "MARKOVBAJ_TRIGGER"
	envCorpusPath      = "MARKOVBAJ_CORPUS_PATH"
	envLogLevel        = "MARKOVBAJ_LOG_LEVEL"
	envAddr            = "MARKOVBAJ_ADDR"
)

// ServerConfig holds the configuration for the HTTP server.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr" yaml:"api_addr"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

// MarkovConfig holds the settings for building chains and planning replies.
type MarkovConfig struct {
	ModelName       string  `json:"model_name" yaml:"model_name"`
	Order           int     `json:"order" yaml:"order"`
	Normalizer      string  `json:"normalizer" yaml:"normalizer"`
	SecondStart     bool    `json:"second_start" yaml:"second_start"`
	UnrelatedChance float64 `json:"unrelated_chance" yaml:"unrelated_chance"`
	Trigger         string  `json:"trigger" yaml:"trigger"`
	MaxReplyLength  int     `json:"max_reply_length" yaml:"max_reply_length"`
	// LoadFromStore starts the service from the model saved in the database
	// instead of rebuilding it from the corpus.
	LoadFromStore bool `json:"load_from_store" yaml:"load_from_store"`
	// SaveOnBuild writes every chain built from the corpus to the database.
	SaveOnBuild bool `json:"save_on_build" yaml:"save_on_build"`
}

// CorpusConfig holds the settings for loading and cleaning training messages.
type CorpusConfig struct {
	Path            string                 `json:"path" yaml:"path"`
	Watch           bool                   `json:"watch" yaml:"watch"`
	WatchDebounceMs int                    `json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
	Sanitizer       corpus.SanitizerConfig `json:"sanitizer" yaml:"sanitizer"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Markov *MarkovConfig `json:"markov_config" yaml:"markov_config"`
	Corpus *CorpusConfig `json:"corpus_config" yaml:"corpus_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:      ":7290",
		LogLevel:     "info",
		DatabasePath: "./data/markovbaj.db",
	}
}

// DefaultMarkovConfig creates a chain configuration with default values.
func DefaultMarkovConfig() *MarkovConfig {
	return &MarkovConfig{
		ModelName:       "default",
		Order:           2,
		Normalizer:      markov.NormalizerFold,
		SecondStart:     true,
		UnrelatedChance: markov.DefaultUnrelatedChance,
		Trigger:         "markovbaj",
		MaxReplyLength:  markov.DefaultMaxLength,
		SaveOnBuild:     true,
	}
}

// DefaultCorpusConfig creates a corpus configuration with default values.
func DefaultCorpusConfig() *CorpusConfig {
	return &CorpusConfig{
		Path:            "./data/corpus.json",
		Watch:           true,
		WatchDebounceMs: 500,
		Sanitizer:       corpus.DefaultSanitizerConfig(),
	}
}

// DefaultConfig returns a configuration with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		Markov: DefaultMarkovConfig(),
		Corpus: DefaultCorpusConfig(),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path. If the file doesn't exist, it creates one with default values.
// Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			if err = applyEnvOverrides(config); err != nil {
				return nil, err
			}
			return config, config.Validate()
		}
		// For other errors (e.g., permission denied), return the error.
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(file, config)
	} else {
		err = json.Unmarshal(file, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Sections missing from the file keep their defaults.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Markov == nil {
		config.Markov = DefaultMarkovConfig()
	}
	if config.Corpus == nil {
		config.Corpus = DefaultCorpusConfig()
	}

	if err = applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

func applyEnvOverrides(config *Config) error {
	if v, ok := os.LookupEnv(envUnrelatedChance); ok {
		chance, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envUnrelatedChance, v, err)
		}
		config.Markov.UnrelatedChance = chance
	}
	if v, ok := os.LookupEnv(envTrigger); ok {
		config.Markov.Trigger = v
	}
	if v, ok := os.LookupEnv(envCorpusPath); ok {
		config.Corpus.Path = v
	}
	if v, ok := os.LookupEnv(envLogLevel); ok {
		config.Server.LogLevel = v
	}
	if v, ok := os.LookupEnv(envAddr); ok {
		config.Server.ApiAddr = v
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Markov.Order < 1 {
		return fmt.Errorf("markov order must be at least 1, got %d", c.Markov.Order)
	}
	if c.Markov.UnrelatedChance < 0 || c.Markov.UnrelatedChance > 1 {
		return fmt.Errorf("unrelated chance must be within [0, 1], got %v", c.Markov.UnrelatedChance)
	}
	if _, ok := markov.NormalizerByName(c.Markov.Normalizer); !ok {
		return fmt.Errorf("unknown normalizer '%s'", c.Markov.Normalizer)
	}
	if c.Markov.ModelName == "" {
		return fmt.Errorf("model name must not be empty")
	}
	return nil
}

// logLevel maps the configured level name to a slog.Level.
func (c *ServerConfig) logLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
