package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 30, cfg.SinceDays)
	assert.Equal(t, 1, cfg.WorkerPoolSize)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval)
	assert.True(t, cfg.SubjectFallbackThreading)
	assert.True(t, cfg.LogSanitize)
	assert.Equal(t, "SYNCENGINE_PASSPHRASE", cfg.DecryptionPassphraseEnv)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batch_size: 50
worker_pool_size: 4
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.SinceDays) // untouched default
}

func TestLoad_EnvOverridesDefaultsAndFile(t *testing.T) {
	t.Setenv("SYNCENGINE_BATCH_SIZE", "25")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.BatchSize)
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(t, err)
}

func TestValidate_RejectsInvalidBatchSize(t *testing.T) {
	cfg := &Config{BatchSize: 0, SinceDays: 1, WorkerPoolSize: 1, CycleInterval: time.Minute}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeSinceDays(t *testing.T) {
	cfg := &Config{BatchSize: 1, SinceDays: -1, WorkerPoolSize: 1, CycleInterval: time.Minute}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvalidWorkerPoolSize(t *testing.T) {
	cfg := &Config{BatchSize: 1, SinceDays: 1, WorkerPoolSize: 0, CycleInterval: time.Minute}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveCycleInterval(t *testing.T) {
	cfg := &Config{BatchSize: 1, SinceDays: 1, WorkerPoolSize: 1, CycleInterval: 0}
	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := &Config{BatchSize: 10, SinceDays: 30, WorkerPoolSize: 2, CycleInterval: time.Minute}
	assert.NoError(t, cfg.Validate())
}
