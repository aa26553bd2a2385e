package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err, "default config should be written to disk")

	var written Config
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, ":7290", written.Server.ApiAddr)
	assert.Equal(t, 2, written.Markov.Order)
	assert.Equal(t, "markovbaj", written.Markov.Trigger)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlConfig := `
markov_config:
  model_name: chat
  order: 3
  normalizer: identity
  unrelated_chance: 0.25
  trigger: bot
corpus_config:
  path: /srv/corpus.txt
  watch: false
`
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "chat", cfg.Markov.ModelName)
	assert.Equal(t, 3, cfg.Markov.Order)
	assert.Equal(t, "identity", cfg.Markov.Normalizer)
	assert.InDelta(t, 0.25, cfg.Markov.UnrelatedChance, 1e-9)
	assert.Equal(t, "bot", cfg.Markov.Trigger)
	assert.Equal(t, "/srv/corpus.txt", cfg.Corpus.Path)
	assert.False(t, cfg.Corpus.Watch)

	// The server section is missing from the file and keeps its defaults.
	assert.Equal(t, DefaultServerConfig(), cfg.Server)
}

func TestLoadConfig_DefaultsNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	_, err := LoadConfig(path)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg.Server)
	assert.Equal(t, DefaultMarkovConfig(), cfg.Markov)
	assert.Equal(t, []string{"[deleted]"}, cfg.Corpus.Sanitizer.ExcludedAuthors)

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	t.Run("values replace the file", func(t *testing.T) {
		t.Setenv(envUnrelatedChance, "0.5")
		t.Setenv(envTrigger, "robot")
		t.Setenv(envCorpusPath, "/tmp/other.json")
		t.Setenv(envLogLevel, "debug")
		t.Setenv(envAddr, "127.0.0.1:9000")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.InDelta(t, 0.5, cfg.Markov.UnrelatedChance, 1e-9)
		assert.Equal(t, "robot", cfg.Markov.Trigger)
		assert.Equal(t, "/tmp/other.json", cfg.Corpus.Path)
		assert.Equal(t, slog.LevelDebug, cfg.Server.logLevel())
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.ApiAddr)
	})

	t.Run("malformed chance is rejected", func(t *testing.T) {
		t.Setenv(envUnrelatedChance, "often")

		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), envUnrelatedChance)
	})

	t.Run("out of range chance fails validation", func(t *testing.T) {
		t.Setenv(envUnrelatedChance, "1.5")

		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrelated chance")
	})
}

func TestLoadConfig_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero order", func(c *Config) { c.Markov.Order = 0 }, "order"},
		{"negative chance", func(c *Config) { c.Markov.UnrelatedChance = -0.1 }, "unrelated chance"},
		{"unknown normalizer", func(c *Config) { c.Markov.Normalizer = "soundex" }, "normalizer"},
		{"empty model name", func(c *Config) { c.Markov.ModelName = "" }, "model name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfigLogLevel(t *testing.T) {
	levels := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for name, want := range levels {
		assert.Equal(t, want, (&ServerConfig{LogLevel: name}).logLevel(), name)
	}
}
