package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transmute/internal/apihandlers"
	"transmute/internal/app"
	"transmute/internal/config"
	"transmute/internal/models"
	"transmute/internal/store"
)

// fakeFFmpeg copies its input to the last argument and reports progress
// the way ffmpeg does on stderr.
const fakeFFmpeg = `#!/bin/sh
for last; do :; done
echo "  Duration: 00:00:04.00, start: 0.000000, bitrate: 128 kb/s" >&2
printf 'size=  1kB time=00:00:02.00 bitrate=1.0kbits/s\r' >&2
cp "$5" "$last"
`

func newIntegrationApp(t *testing.T, mutate func(*config.Config)) *app.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	ffmpeg := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpeg, []byte(fakeFFmpeg), 0o755))

	cfg := &config.Config{}
	cfg.Server.FastPathWait = 10 * time.Second
	cfg.Server.MaxUploadBytes = 1 << 20
	cfg.Queue.BacklogCapacity = 4
	cfg.Queue.ConcurrencyLimit = 2
	cfg.Queue.HeartbeatTimeout = time.Minute
	cfg.Queue.TerminalJobMaxAge = time.Hour
	cfg.Queue.CleanupSchedule = "@every 1h"
	cfg.Storage.WorkDir = filepath.Join(dir, "work")
	cfg.Tools.FFmpeg = ffmpeg
	cfg.Tools.Timeout = 30 * time.Second
	cfg.Tools.KillGrace = time.Second
	cfg.Redis.SnapshotTTL = time.Hour
	cfg.History.DSN = "sqlite://" + filepath.Join(dir, "history.db")
	cfg.History.Retention = time.Hour
	cfg.Removal.DownloadGrace = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return a
}

func convertRequest(t *testing.T, name, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAppInitialization(t *testing.T) {
	a := newIntegrationApp(t, nil)

	assert.NotNil(t, a.Storage)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Dispatcher)
	assert.NotNil(t, a.Snapshots)
	assert.NotNil(t, a.HistoryStore)
	assert.NotNil(t, a.Removal)
	assert.NotNil(t, a.Janitor)
	assert.Nil(t, a.Redis, "no Redis address configured")

	require.NoError(t, a.HistoryStore.Ping(context.Background()))
}

func TestConvertDownloadAndRemove(t *testing.T) {
	a := newIntegrationApp(t, func(c *config.Config) {
		c.Removal.DownloadGrace = 50 * time.Millisecond
	})
	router := apihandlers.NewRouter(a)

	w := serve(router, convertRequest(t, "voice memo.wav", "RIFF-audio", map[string]string{
		"format": "mp3",
		"wait":   "10",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data apihandlers.JobResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	job := resp.Data
	require.Equal(t, models.StatusCompleted, job.Status, job.Error)

	w = serve(router, httptest.NewRequest(http.MethodGet, job.DownloadURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RIFF-audio", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "voice_memo.mp3")

	// The download schedules removal; after the grace period the job and
	// its files are gone.
	require.Eventually(t, func() bool {
		_, ok := a.Queue.Status(job.ID)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	entries, err := os.ReadDir(filepath.Join(a.Storage.Root(), "outputs"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// History outlives the job.
	require.Eventually(t, func() bool {
		e, err := a.HistoryStore.Get(context.Background(), job.ID)
		return err == nil && e.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	entriesList, err := a.HistoryStore.List(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, entriesList, 1)
}

func TestJanitorSweepsExpiredJobs(t *testing.T) {
	a := newIntegrationApp(t, func(c *config.Config) {
		c.Queue.TerminalJobMaxAge = time.Nanosecond
	})
	router := apihandlers.NewRouter(a)

	w := serve(router, convertRequest(t, "a.wav", "RIFF", map[string]string{"format": "ogg", "wait": "10", "id": "old"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, 0, a.Janitor.RunNow(context.Background()))
	_, ok := a.Queue.Status("old")
	assert.False(t, ok)
}
