package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/narrative-market/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.3, cfg.Market.Weights.Velocity)
	assert.Equal(t, 5.0, cfg.Market.Sentiment.Bullish)
	assert.Equal(t, 768, cfg.Embedding.Dims)
	assert.Equal(t, 168*time.Hour, cfg.Staking.Window)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("NARRATIVE_MARKET_DB", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":3001", cfg.Server.Addr)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
server:
  addr: ":8080"
market:
  weights:
    velocity: 0.5
  windows:
    momentum_short: 2h
  trending_limit: 5
staking:
  base_apy: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 0.5, cfg.Market.Weights.Velocity)
	// Unset keys keep their defaults.
	assert.Equal(t, 0.3, cfg.Market.Weights.Momentum)
	assert.Equal(t, 2*time.Hour, cfg.Market.Windows.MomentumShort)
	assert.Equal(t, 24*time.Hour, cfg.Market.Windows.MomentumLong)
	assert.Equal(t, 5, cfg.Market.TrendingLimit)
	assert.Equal(t, 3.0, cfg.Staking.BaseAPY)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATIVE_MARKET_DB", "/tmp/override.db")
	t.Setenv("NARRATIVE_MARKET_ADDR", ":9999")
	t.Setenv("NARRATIVE_MARKET_EMBED_PROVIDER", "ollama")
	t.Setenv("NARRATIVE_MARKET_EMBED_DIMS", "384")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")

	cfg, err := Load(writeConfig(t, "server:\n  addr: \":8080\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dims)
	assert.Equal(t, "http://ollama:11434", cfg.Embedding.URL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = Load(writeConfig(t, "embedding:\n  provider: word2vec\n"))
	assert.ErrorContains(t, err, "embedding.provider")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = Load(writeConfig(t, "market:\n  weights:\n    recency: -1\n"))
	assert.ErrorContains(t, err, "market")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = Load(writeConfig(t, "database:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "database.driver")

	t.Setenv("NARRATIVE_MARKET_EMBED_DIMS", "many")
	_, err = Load("")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
