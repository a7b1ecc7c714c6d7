package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.85, cfg.Anonymizer.ConfidenceThreshold)
	assert.Equal(t, 0.5, cfg.Anonymizer.LLMThreshold)
	assert.Equal(t, "mask", cfg.Anonymizer.Method)
	assert.Equal(t, 720*time.Hour, cfg.Adjudicator.Cache.Staleness)
	assert.Equal(t, "ollama", cfg.Adjudicator.Provider)
	assert.Equal(t, 4, cfg.Batch.WorkerCount)
	assert.Equal(t, 0.6, cfg.Learning.LearnedConfidence)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
anonymizer:
  confidence_threshold: 0.9
  llm_threshold: 0.4
  method: hash
adjudicator:
  enabled: true
  provider: anthropic
  timeout: 5s
  cache:
    backend: bbolt
    staleness: 48h
stats:
  database_driver: sqlite3
  database_url: stats.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Anonymizer.ConfidenceThreshold)
	assert.Equal(t, "hash", cfg.Anonymizer.Method)
	assert.True(t, cfg.Adjudicator.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Adjudicator.Timeout)
	assert.Equal(t, "bbolt", cfg.Adjudicator.Cache.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Adjudicator.Cache.Staleness)
	assert.Equal(t, "sqlite3", cfg.Stats.DatabaseDriver)

	th := cfg.Thresholds()
	assert.Equal(t, 0.9, th.Confidence)
	assert.Equal(t, 0.4, th.LLM)
	assert.Equal(t, 0.5, th.Review)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_ANONYMIZER_LLM_THRESHOLD", "0.3")
	t.Setenv("SENTINEL_BATCH_WORKERS", "12")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Anonymizer.LLMThreshold)
	assert.Equal(t, 12, cfg.Batch.WorkerCount)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"threshold out of range": "anonymizer:\n  confidence_threshold: 1.5\n",
		"llm above confidence":   "anonymizer:\n  confidence_threshold: 0.4\n  llm_threshold: 0.6\n",
		"unknown method":         "anonymizer:\n  method: shuffle\n",
		"unknown provider":       "adjudicator:\n  provider: gpt\n",
		"unknown cache":          "adjudicator:\n  cache:\n    backend: memcached\n",
		"unknown backend":        "statistical:\n  backend: spacy\n",
		"bad log level":          "logging:\n  level: trace\n",
		"bad port":               "server:\n  port: 70000\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestWatchReloadsThresholds(t *testing.T) {
	path := writeConfig(t, "anonymizer:\n  llm_threshold: 0.5\n")
	_, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	require.NoError(t, Watch(zap.NewNop(), func(c *Config) { reloaded <- c }))

	require.NoError(t, os.WriteFile(path, []byte("anonymizer:\n  llm_threshold: 0.3\n"), 0o600))

	select {
	case c := <-reloaded:
		assert.Equal(t, 0.3, c.Anonymizer.LLMThreshold)
		assert.Equal(t, 0.85, c.Anonymizer.ConfidenceThreshold)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
