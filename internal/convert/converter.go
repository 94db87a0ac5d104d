package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"transmute/internal/queue"
	"transmute/internal/util"
)

const (
	defaultKillGrace = 5 * time.Second
	// matches the queue's "Starting conversion" percentage
	startingPercent = 5
)

// Config names the tool binaries and bounds each run.
type Config struct {
	FFmpeg    string
	Magick    string
	Soffice   string
	Timeout   time.Duration
	KillGrace time.Duration
}

// Converter is the queue.Unit that runs native conversion tools.
type Converter struct {
	cfg    Config
	logger log.FieldLogger
}

func New(cfg Config, logger log.FieldLogger) *Converter {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = string(ToolFFmpeg)
	}
	if cfg.Magick == "" {
		cfg.Magick = string(ToolMagick)
	}
	if cfg.Soffice == "" {
		cfg.Soffice = string(ToolSoffice)
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Converter{cfg: cfg, logger: logger}
}

// Binary returns the configured executable for t.
func (c *Converter) Binary(t Tool) string {
	switch t {
	case ToolFFmpeg:
		return c.cfg.FFmpeg
	case ToolMagick:
		return c.cfg.Magick
	case ToolSoffice:
		return c.cfg.Soffice
	}
	return ""
}

func (c *Converter) Execute(ctx context.Context, run *queue.Run) error {
	job := run.Job()
	tool, err := Resolve(util.Ext(job.InputPath), job.OutputFormat)
	if err != nil {
		return err
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	switch tool {
	case ToolFFmpeg:
		err = c.runFFmpeg(ctx, run)
	case ToolMagick:
		run.Report(startingPercent, "Converting image")
		err = c.runTool(ctx, run, c.cfg.Magick, []string{job.InputPath, job.OutputPath}, nil)
	case ToolSoffice:
		err = c.runSoffice(ctx, run)
	}
	if err != nil {
		return err
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		return fmt.Errorf("%s produced no output: %w", tool, err)
	}
	c.logger.WithFields(log.Fields{"job_id": job.ID, "tool": tool}).Debug("tool finished")
	return nil
}

func (c *Converter) runFFmpeg(ctx context.Context, run *queue.Run) error {
	job := run.Job()
	progress := newFFmpegProgress(startingPercent)
	onLine := func(line string) {
		if pct, ok := progress.parse(line); ok {
			run.Report(pct, fmt.Sprintf("Converting: %d%%", pct))
		}
	}
	return c.runTool(ctx, run, c.cfg.FFmpeg, ffmpegArgs(job.InputPath, job.OutputPath, job.OutputFormat), onLine)
}

// runSoffice converts into a scratch directory, since LibreOffice picks the
// output name itself, then moves the result to the job's output path. Each
// run gets its own profile so concurrent instances do not collide.
func (c *Converter) runSoffice(ctx context.Context, run *queue.Run) error {
	job := run.Job()
	scratch, err := os.MkdirTemp(filepath.Dir(job.OutputPath), job.ID+"-soffice-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	run.Report(startingPercent, "Converting document")
	format := strings.TrimPrefix(strings.ToLower(job.OutputFormat), ".")
	args := []string{
		"--headless", "--norestore",
		"-env:UserInstallation=file://" + filepath.Join(scratch, "profile"),
		"--convert-to", format,
		"--outdir", scratch,
		job.InputPath,
	}
	if err := c.runTool(ctx, run, c.cfg.Soffice, args, nil); err != nil {
		return err
	}

	produced := filepath.Join(scratch, util.ReplaceExt(filepath.Base(job.InputPath), format))
	if err := os.Rename(produced, job.OutputPath); err != nil {
		return fmt.Errorf("soffice produced no output: %w", err)
	}
	return nil
}
