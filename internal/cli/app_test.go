package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/narrative-market/internal/narrative"
	"github.com/rcliao/narrative-market/internal/staking"
)

func withFlags(t *testing.T, db, cfg string) {
	t.Helper()
	oldDB, oldCfg := dbPath, configPath
	dbPath, configPath = db, cfg
	t.Cleanup(func() { dbPath, configPath = oldDB, oldCfg })
}

func TestOpenAppWiresServices(t *testing.T) {
	dir := t.TempDir()
	withFlags(t, filepath.Join(dir, "market.db"), "")
	ctx := context.Background()
	staker := "0x1111111111111111111111111111111111111111"

	a, err := openApp()
	require.NoError(t, err)

	n, err := a.directory.Create(ctx, narrative.CreateParams{Creator: staker, Name: "Solar punk", Description: "Cities powered by the sun"})
	require.NoError(t, err)
	_, err = a.staking.Stake(ctx, staking.Request{NarrativeID: n.ID, Amount: decimal.NewFromInt(50), Staker: staker})
	require.NoError(t, err)
	a.Close()

	// The ledger and directory survive a reopen.
	a, err = openApp()
	require.NoError(t, err)
	defer a.Close()

	p, err := a.staking.Position(ctx, n.ID, staker)
	require.NoError(t, err)
	assert.True(t, p.TotalStaked.Equal(decimal.NewFromInt(50)))

	got, err := a.directory.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Solar punk", got.Name)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("database:\n  driver: memory\nlogging:\n  level: warn\n"), 0o644))

	withFlags(t, "", cfgFile)
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "warn", cfg.Logging.Level)

	withFlags(t, filepath.Join(dir, "x.db"), cfgFile)
	old := logLevel
	logLevel = "debug"
	t.Cleanup(func() { logLevel = old })

	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "x.db"), cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
