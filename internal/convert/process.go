package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"transmute/internal/queue"
)

const stderrTailLines = 5

// processHandle lets the queue abort a running tool. Tools run in their own
// process group so helpers they spawn are signalled too.
type processHandle struct {
	proc  *os.Process
	grace time.Duration
}

func (h processHandle) Abort() error {
	err := stopGroup(h.proc, h.grace)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// stopGroup sends SIGTERM to the process group led by p and SIGKILL once
// grace has passed. The kill targets the whole group: members that ignore
// SIGTERM are reaped even after the leader has exited.
func stopGroup(p *os.Process, grace time.Duration) error {
	if err := signalGroup(p, syscall.SIGTERM); err != nil {
		return err
	}
	time.AfterFunc(grace, func() { _ = signalGroup(p, syscall.SIGKILL) })
	return nil
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// runTool starts bin, attaches its process to run and waits for it. Each
// stderr line is passed to onLine; the last few end up in the error on
// failure.
func (c *Converter) runTool(ctx context.Context, run *queue.Run, bin string, args []string, onLine func(string)) error {
	name := filepath.Base(bin)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s not started: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return stopGroup(cmd.Process, c.cfg.KillGrace) }
	// Wait gives up on the stderr pipe once the group has had time to die.
	cmd.WaitDelay = 2 * c.cfg.KillGrace
	stderr := &lineWriter{onLine: onLine}
	cmd.Stderr = stderr

	c.logger.WithField("job_id", run.Job().ID).Debugf("exec %s %s", name, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	run.Attach(processHandle{proc: cmd.Process, grace: c.cfg.KillGrace})

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		if tail := stderr.Tail(); tail != "" {
			return fmt.Errorf("%s failed: %w: %s", name, err, tail)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// lineWriter splits tool output on \n and \r; ffmpeg rewrites its status
// line with carriage returns.
type lineWriter struct {
	onLine func(string)
	buf    []byte
	tail   []string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.flush()
			continue
		}
		w.buf = append(w.buf, b)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	line := strings.TrimSpace(string(w.buf))
	w.buf = w.buf[:0]
	if line == "" {
		return
	}
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[1:]
	}
	if w.onLine != nil {
		w.onLine(line)
	}
}

// Tail returns the last stderr lines joined on one line.
func (w *lineWriter) Tail() string {
	w.flush()
	return strings.Join(w.tail, " | ")
}
