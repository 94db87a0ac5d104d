package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveArtifactTask(t *testing.T) {
	task, err := NewRemoveArtifactTask("job-42")
	require.NoError(t, err)
	assert.Equal(t, TypeRemoveArtifact, task.Type())

	p, err := ParseRemoveArtifactPayload(task)
	require.NoError(t, err)
	assert.Equal(t, "job-42", p.JobID)

	_, err = NewRemoveArtifactTask("")
	assert.Error(t, err)

	_, err = ParseRemoveArtifactPayload(asynq.NewTask(TypeRemoveArtifact, []byte(`{}`)))
	assert.Error(t, err)
	_, err = ParseRemoveArtifactPayload(asynq.NewTask(TypeRemoveArtifact, []byte(`not json`)))
	assert.Error(t, err)

	assert.Equal(t, "remove:job-42", RemovalTaskID("job-42"))
}
