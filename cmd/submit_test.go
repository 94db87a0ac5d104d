package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transmute/internal/apihandlers"
	"transmute/internal/models"
)

func fakeServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/convert", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "mp3", r.FormValue("format"))
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, "input", string(data))
		}

		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"data":{"job_id":"j1","status":"pending","progress":0}}`)
	})
	mux.HandleFunc("/api/v1/progress/j1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			io.WriteString(w, `{"data":{"job_id":"j1","status":"processing","progress":40,"message":"Converting"}}`)
			return
		}
		io.WriteString(w, `{"data":{"job_id":"j1","status":"completed","progress":100,"download_url":"/api/v1/download/j1"}}`)
	})
	mux.HandleFunc("/api/v1/download/j1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "output")
	})
	mux.HandleFunc("/api/v1/progress/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"not_found","message":"Job gone not found"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestConvertClient_RoundTrip(t *testing.T) {
	srv, polls := fakeServer(t)
	client := &convertClient{base: srv.URL, http: srv.Client()}
	ctx := context.Background()

	dir := t.TempDir()
	in := filepath.Join(dir, "song.ogg")
	require.NoError(t, os.WriteFile(in, []byte("input"), 0o644))

	job, err := client.upload(ctx, in, "mp3", "")
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, models.StatusPending, job.Status)

	job, err = client.poll(ctx, job, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))

	out := filepath.Join(dir, "song.mp3")
	n, err := client.download(ctx, job, out)
	require.NoError(t, err)
	assert.Equal(t, int64(len("output")), n)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "output", string(data))
}

func TestConvertClient_APIError(t *testing.T) {
	srv, _ := fakeServer(t)
	client := &convertClient{base: srv.URL, http: srv.Client()}

	_, err := client.poll(context.Background(), jobRef("gone"), time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Job gone not found")
}

func TestConvertClient_PollStopsOnContext(t *testing.T) {
	srv, _ := fakeServer(t)
	client := &convertClient{base: srv.URL, http: srv.Client()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.poll(ctx, jobRef("j1"), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func jobRef(id string) apihandlers.JobResponse {
	return apihandlers.JobResponse{ID: id, Status: models.StatusPending}
}
