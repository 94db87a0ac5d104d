package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New("whenever", nil)
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	logger, hook := test.NewNullLogger()
	j, err := New("@every 1h", logger)
	require.NoError(t, err)

	var order []string
	j.Add("queue", func(context.Context) error { order = append(order, "queue"); return nil })
	j.Add("history", func(context.Context) error { order = append(order, "history"); return errors.New("db down") })
	j.Add("snapshots", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		order = append(order, "snapshots")
		return nil
	})

	failed := j.RunNow(context.Background())
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"queue", "history", "snapshots"}, order)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, "history", entry.Data["task"])
}

func TestStartStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	j, err := New("@every 1s", logger)
	require.NoError(t, err)

	var runs atomic.Int32
	j.Add("count", func(context.Context) error { runs.Add(1); return nil })

	j.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, j.Stop(ctx))
}
