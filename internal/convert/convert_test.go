package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transmute/internal/models"
	"transmute/internal/queue"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		in, out string
		want    Tool
	}{
		{"wav", "mp3", ToolFFmpeg},
		{".MOV", "mp4", ToolFFmpeg},
		{"mp4", "mp3", ToolFFmpeg},
		{"webm", "gif", ToolFFmpeg},
		{"png", "webp", ToolMagick},
		{"jpg", "pdf", ToolMagick},
		{"docx", "pdf", ToolSoffice},
		{"xlsx", "csv", ToolSoffice},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.in, tt.out)
		require.NoError(t, err, "%s -> %s", tt.in, tt.out)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.in, tt.out)
	}

	for _, pair := range [][2]string{{"mp3", "mp4"}, {"png", "mp3"}, {"", "pdf"}, {"exe", "zip"}} {
		_, err := Resolve(pair[0], pair[1])
		assert.ErrorIs(t, err, ErrUnsupported, "%s -> %s", pair[0], pair[1])
	}
}

func TestOutputFormats(t *testing.T) {
	formats := OutputFormats()
	assert.Contains(t, formats, "mp3")
	assert.Contains(t, formats, "pdf")
	assert.IsNonDecreasing(t, formats)
}

func TestFFmpegProgress(t *testing.T) {
	p := newFFmpegProgress(5)

	_, ok := p.parse("size=  10kB time=00:00:01.00 bitrate= 1.0kbits/s")
	assert.False(t, ok, "no duration seen yet")

	_, ok = p.parse("  Duration: 00:01:40.00, start: 0.000000, bitrate: 320 kb/s")
	assert.False(t, ok)

	_, ok = p.parse("size=  10kB time=00:00:03.00 bitrate= 1.0kbits/s")
	assert.False(t, ok, "3% is below the starting floor")

	pct, ok := p.parse("size=  10kB time=00:00:50.00 bitrate= 1.0kbits/s speed=10x")
	require.True(t, ok)
	assert.Equal(t, 50, pct)

	_, ok = p.parse("size=  10kB time=00:00:40.00 bitrate= 1.0kbits/s")
	assert.False(t, ok, "progress never goes backwards")

	pct, ok = p.parse("size=  10kB time=00:02:00.00 bitrate= 1.0kbits/s")
	require.True(t, ok)
	assert.Equal(t, 99, pct)
}

func TestParseClock(t *testing.T) {
	assert.Equal(t, time.Hour+2*time.Minute+3500*time.Millisecond, parseClock("01", "02", "03.50"))
}

func TestFFmpegArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-y", "-nostdin", "-hide_banner", "-i", "in.mov", "-vn", "out.mp3"},
		ffmpegArgs("in.mov", "out.mp3", "mp3"))
	assert.Equal(t,
		[]string{"-y", "-nostdin", "-hide_banner", "-i", "in.mov", "out.webm"},
		ffmpegArgs("in.mov", "out.webm", "webm"))
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := &lineWriter{onLine: func(l string) { lines = append(lines, l) }}
	_, _ = w.Write([]byte("frame=1 time=00:00:01.00\rframe=2 time=00:00:02.00\r\nerr"))
	_, _ = w.Write([]byte("or: bad input\n"))
	for i := 0; i < 10; i++ {
		_, _ = w.Write([]byte("x\n"))
	}

	assert.Equal(t, "frame=1 time=00:00:01.00", lines[0])
	assert.Equal(t, "error: bad input", lines[2])
	assert.Equal(t, "x | x | x | x | x", w.Tail())
}

// --- end-to-end through the queue with stand-in tools ---

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

const fakeFFmpeg = `for last; do :; done
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 128 kb/s" >&2
printf 'size=  1kB time=00:00:05.00 bitrate=1.0kbits/s\r' >&2
echo converted > "$last"
`

type recorder struct {
	updates chan models.ProgressUpdate
}

func (r *recorder) Notify(u models.ProgressUpdate) {
	select {
	case r.updates <- u:
	default:
	}
}

func newQueue(t *testing.T, unit queue.Unit, n queue.Notifier) *queue.Queue {
	t.Helper()
	opts := []queue.Option{}
	if n != nil {
		opts = append(opts, queue.WithNotifier(n))
	}
	q, err := queue.New(queue.Config{
		BacklogCapacity:  4,
		ConcurrencyLimit: 2,
		HeartbeatTimeout: time.Minute,
	}, unit, opts...)
	require.NoError(t, err)
	t.Cleanup(q.Shutdown)
	return q
}

func waitTerminal(t *testing.T, q *queue.Queue, id string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = q.Status(id)
		return ok && job.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestConverter_FFmpegSuccess(t *testing.T) {
	dir := t.TempDir()
	conv := New(Config{FFmpeg: writeScript(t, dir, "ffmpeg", fakeFFmpeg)}, nil)
	rec := &recorder{updates: make(chan models.ProgressUpdate, 32)}
	q := newQueue(t, conv, rec)

	input := filepath.Join(dir, "song.wav")
	output := filepath.Join(dir, "song.mp3")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))

	id, err := q.Submit(models.Job{InputPath: input, OutputPath: output, OutputFormat: "mp3"})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusCompleted, job.Status, job.Error)
	assert.FileExists(t, output)

	sawHalf := false
	for len(rec.updates) > 0 {
		if u := <-rec.updates; u.Progress == 50 {
			sawHalf = true
		}
	}
	assert.True(t, sawHalf, "ffmpeg progress should be reported")
}

func TestConverter_ToolFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "magick", `echo "magick: no decode delegate for this image format" >&2
exit 1
`)
	q := newQueue(t, New(Config{Magick: script}, nil), nil)

	input := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(input, []byte("not a png"), 0o644))

	id, err := q.Submit(models.Job{InputPath: input, OutputPath: filepath.Join(dir, "broken.webp"), OutputFormat: "webp"})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "no decode delegate")
	require.Eventually(t, func() bool {
		_, err := os.Stat(input)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond, "failed jobs release their resources")
}

func TestConverter_MissingOutputFails(t *testing.T) {
	dir := t.TempDir()
	q := newQueue(t, New(Config{Magick: writeScript(t, dir, "magick", "exit 0\n")}, nil), nil)

	input := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(input, []byte("png"), 0o644))
	id, err := q.Submit(models.Job{InputPath: input, OutputPath: filepath.Join(dir, "a.jpg"), OutputFormat: "jpg"})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "produced no output")
}

func TestConverter_UnsupportedPairFails(t *testing.T) {
	q := newQueue(t, New(Config{}, nil), nil)
	id, err := q.Submit(models.Job{InputPath: filepath.Join(t.TempDir(), "x.exe"), OutputFormat: "mp3"})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.Error, ErrUnsupported.Error())
}

func TestConverter_CancelStopsProcess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffmpeg", "exec sleep 30\n")
	rec := &recorder{updates: make(chan models.ProgressUpdate, 32)}
	q := newQueue(t, New(Config{FFmpeg: script, KillGrace: time.Second}, nil), rec)

	input := filepath.Join(dir, "long.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))
	id, err := q.Submit(models.Job{InputPath: input, OutputPath: filepath.Join(dir, "long.mp3"), OutputFormat: "mp3"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := q.Status(id)
		return ok && job.Status == models.StatusProcessing
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	assert.True(t, q.Cancel(id, ""))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NoFileExists(t, input)
}

func TestConverter_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffmpeg", "exec sleep 30\n")
	q := newQueue(t, New(Config{FFmpeg: script, Timeout: 200 * time.Millisecond, KillGrace: time.Second}, nil), nil)

	input := filepath.Join(dir, "slow.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))
	id, err := q.Submit(models.Job{InputPath: input, OutputPath: filepath.Join(dir, "slow.mp3"), OutputFormat: "mp3"})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "interrupted")
}

func TestConverter_CancelKillsStubbornHelpers(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("needs /proc")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "helper.pid")
	// The helper ignores SIGTERM, so only the group SIGKILL can stop it.
	script := writeScript(t, dir, "ffmpeg", `sh -c 'trap "" TERM; echo $$ > "$0"; exec sleep 30' "`+pidFile+`" &
wait
`)
	q := newQueue(t, New(Config{FFmpeg: script, KillGrace: 200 * time.Millisecond}, nil), nil)

	input := filepath.Join(dir, "long.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF"), 0o644))
	id, err := q.Submit(models.Job{InputPath: input, OutputPath: filepath.Join(dir, "long.mp3"), OutputFormat: "mp3"})
	require.NoError(t, err)

	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, processAlive(pid))

	assert.True(t, q.Cancel(id, ""))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Eventually(t, func() bool { return !processAlive(pid) }, 5*time.Second, 20*time.Millisecond,
		"helper %d survived cancellation", pid)
}

// processAlive reports whether pid exists and is not a zombie.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] != 'Z'
}
