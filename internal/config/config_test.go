package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/taskscheduler/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.PollTick)
	assert.Equal(t, "taskscheduler", cfg.ServiceName)
}

func TestLoadReadsEnvOverride(t *testing.T) {
	t.Setenv("SCHED_MAX_CONCURRENT", "16")
	t.Setenv("SCHED_DB_PATH", "/tmp/custom.db")
	t.Setenv("SCHED_JSON_LOG", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.MaxConcurrent)
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.True(t, cfg.JSONLog)
}
