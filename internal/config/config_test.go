package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Concepts.Driver)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Claude.Model)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Len(t, cfg.Pipeline.Stages, 5)
	assert.Equal(t, "new", cfg.Reddit.Sort)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
concepts:
  driver: sqlite
  sqlite_path: /tmp/test.db
pipeline:
  max_concurrency: 8
  min_score: 5
pricing:
  stage_unit_cost:
    profiling: 0.10
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Concepts.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Concepts.SQLitePath)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 5, cfg.Pipeline.MinScore)
	assert.InDelta(t, 0.10, cfg.Pricing.StageUnitCost["profiling"], 1e-9)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
}
