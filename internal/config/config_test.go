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

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(8), cfg.Warehouse.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.Warehouse.QueryTimeout)
	assert.Equal(t, "https://api.census.gov/data", cfg.Census.BaseURL)
	assert.Equal(t, int64(4), cfg.Census.MaxConcurrent)
	assert.InDelta(t, 10, cfg.Census.RatePerSecond, 0.001)
	assert.Equal(t, 2*time.Minute, cfg.Census.TimeoutPerVintage)
	assert.Equal(t, "anthropic", cfg.AI.Primary)
	assert.Equal(t, int64(4), cfg.AI.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.AI.SectionTimeout)
	assert.Equal(t, 1024, cfg.AI.MaxTokens)
	assert.InDelta(t, 0.3, cfg.AI.Temperature, 0.001)
	assert.Equal(t, 20*time.Minute, cfg.Jobs.WallClock)
	assert.Equal(t, "./data/reports", cfg.Store.Root)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "*/10 * * * *", cfg.Store.GCSchedule)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
warehouse:
  dsn: postgres://localhost/lending
  max_concurrent: 4
log:
  level: debug
  format: console
server:
  addr: ":9090"
jobs:
  wall_clock: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/lending", cfg.Warehouse.DSN)
	assert.Equal(t, int64(4), cfg.Warehouse.MaxConcurrent)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.WallClock)
	// Defaults still apply for unset values
	assert.Equal(t, int64(4), cfg.Census.MaxConcurrent)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
warehouse:
  dsn: postgres://localhost/filedb
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("JUSTDATA_WAREHOUSE_DSN", "postgres://localhost/envdb")
	t.Setenv("JUSTDATA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres://localhost/envdb", cfg.Warehouse.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("JUSTDATA_SERVER_ADDR", ":3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestValidate_WarehouseDSNRequired(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse.dsn is required")
}

func TestValidate_MissingCensusKeyOnlyWarns(t *testing.T) {
	cfg := &Config{}
	cfg.Warehouse.DSN = "postgres://localhost/lending"

	assert.NoError(t, cfg.Validate())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
