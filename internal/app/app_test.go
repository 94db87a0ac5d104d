package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transmute/internal/config"
	"transmute/internal/removal"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.WorkDir = filepath.Join(dir, "work")
	cfg.Queue.BacklogCapacity = 4
	cfg.Queue.ConcurrencyLimit = 1
	cfg.Queue.HeartbeatTimeout = time.Minute
	cfg.Queue.TerminalJobMaxAge = time.Hour
	cfg.Queue.CleanupSchedule = "@every 1m"
	cfg.History.DSN = "sqlite://" + filepath.Join(dir, "history.db")
	cfg.History.Retention = time.Hour
	cfg.Redis.SnapshotTTL = time.Minute
	return cfg
}

func TestNewApp_WithoutRedis(t *testing.T) {
	a, err := NewApp(testConfig(t))
	require.NoError(t, err)

	assert.Nil(t, a.Redis)
	assert.NotNil(t, a.HistoryStore)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.memSnapshots)
	assert.False(t, a.UsesAsynq())
	_, ok := a.Removal.(*removal.TimerScheduler)
	assert.True(t, ok)

	assert.Equal(t, 0, a.Janitor.RunNow(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestNewApp_HistoryFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DSN = "mysql://nope"

	a, err := NewApp(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.HistoryStore)
	require.NoError(t, a.Close(context.Background()))
}

func TestNewApp_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.CleanupSchedule = "not a schedule"

	_, err := NewApp(cfg)
	require.Error(t, err)
}
