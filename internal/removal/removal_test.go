package removal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"transmute/internal/tasks"
)

type mockRemover struct {
	mock.Mock
}

func (m *mockRemover) Remove(id string) bool {
	return m.Called(id).Bool(0)
}

type countingRemover struct {
	mu  sync.Mutex
	ids []string
}

func (c *countingRemover) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return true
}

func (c *countingRemover) removed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestHandleRemoveArtifact(t *testing.T) {
	r := new(mockRemover)
	r.On("Remove", "done-job").Return(true).Once()
	r.On("Remove", "gone-job").Return(false).Once()
	handler := HandleRemoveArtifact(r, log.NewEntry(log.New()))

	for _, id := range []string{"done-job", "gone-job"} {
		task, err := tasks.NewRemoveArtifactTask(id)
		require.NoError(t, err)
		assert.NoError(t, handler(context.Background(), task))
	}
	r.AssertExpectations(t)

	err := handler(context.Background(), asynq.NewTask(tasks.TypeRemoveArtifact, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestRegisterHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	RegisterHandlers(mux, new(mockRemover), log.NewEntry(log.New()))

	h, pattern := mux.Handler(asynq.NewTask(tasks.TypeRemoveArtifact, nil))
	assert.NotNil(t, h)
	assert.Equal(t, tasks.TypeRemoveArtifact, pattern)
}

func TestTimerScheduler(t *testing.T) {
	r := &countingRemover{}
	s := NewTimerScheduler(r)
	ctx := context.Background()

	require.NoError(t, s.ScheduleRemoval(ctx, "a", 10*time.Millisecond))
	require.NoError(t, s.ScheduleRemoval(ctx, "a", 10*time.Millisecond), "duplicate schedules collapse")
	require.NoError(t, s.ScheduleRemoval(ctx, "b", time.Hour))
	assert.Equal(t, 2, s.Pending())

	require.Eventually(t, func() bool { return len(r.removed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, r.removed())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Pending())
	assert.Error(t, s.ScheduleRemoval(ctx, "c", time.Millisecond))
	assert.Equal(t, []string{"a"}, r.removed())
}
