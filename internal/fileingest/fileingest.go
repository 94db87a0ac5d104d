package fileingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// FileMeta holds metadata about an ingested file.
type FileMeta struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

/*
Save copies r into dst, creating parent directories as needed.

At most maxBytes are accepted (0 means unlimited); a larger upload is removed
and ErrTooLarge returned. The copy stops early if ctx is cancelled.
*/
func Save(ctx context.Context, dst string, r io.Reader, maxBytes int64) (FileMeta, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return FileMeta{}, fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return FileMeta{}, fmt.Errorf("create upload file: %w", err)
	}

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if maxBytes > 0 {
		// One extra byte tells an exact-size upload apart from an oversized one.
		src = io.LimitReader(src, maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(dst)
		return FileMeta{}, fmt.Errorf("write upload: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(dst)
		return FileMeta{}, fmt.Errorf("close upload: %w", closeErr)
	case maxBytes > 0 && n > maxBytes:
		_ = os.Remove(dst)
		return FileMeta{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return ExtractFileMeta(dst)
}

// ExtractFileMeta returns Name, Path, Size and ModTime for path.
func ExtractFileMeta(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
