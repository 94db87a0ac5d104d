// Package storage keeps uploaded inputs and converted outputs on the local
// filesystem under a single work directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrNotFound is returned (wrapped) when a stored file does not exist.
var ErrNotFound = fs.ErrNotExist

// ErrOutsideRoot is returned for paths that escape the work directory.
var ErrOutsideRoot = errors.New("path outside storage root")

const (
	inputsDir  = "inputs"
	outputsDir = "outputs"
)

type FileMetadata struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

type DiskStats struct {
	Total     int64
	Used      int64
	Available int64
}

// LocalProvider stores job files below basePath.
type LocalProvider struct {
	basePath string
}

func NewLocalProvider(basePath string) (*LocalProvider, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	p := &LocalProvider{basePath: abs}
	for _, dir := range []string{inputsDir, outputsDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return p, nil
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Root() string { return p.basePath }

// ReserveInput creates an empty, uniquely named file for an upload of job
// id and returns its path. Concurrent uploads for the same id never share a
// file; the caller owns the file until a job takes it over.
func (p *LocalProvider) ReserveInput(id, ext string) (string, error) {
	f, err := os.CreateTemp(filepath.Join(p.basePath, inputsDir), id+"-*"+normalizeExt(ext))
	if err != nil {
		return "", fmt.Errorf("reserve input: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("reserve input: %w", err)
	}
	return f.Name(), nil
}

// OutputPath returns where the converted artifact for job id is written.
func (p *LocalProvider) OutputPath(id, ext string) string {
	return filepath.Join(p.basePath, outputsDir, id+normalizeExt(ext))
}

func (p *LocalProvider) Open(_ context.Context, path string) (*os.File, FileMetadata, error) {
	path, err := p.resolve(path)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, FileMetadata{}, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, FileMetadata{}, fmt.Errorf("stat file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return f, FileMetadata{
		Size:        stat.Size(),
		ContentType: contentType,
		ModTime:     stat.ModTime(),
	}, nil
}

// Delete removes a stored file. A missing file yields an error wrapping
// ErrNotFound.
func (p *LocalProvider) Delete(_ context.Context, path string) error {
	path, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (p *LocalProvider) Exists(_ context.Context, path string) (bool, error) {
	path, err := p.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (p *LocalProvider) DiskUsage(_ context.Context) (DiskStats, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.basePath, &stat); err != nil {
		return DiskStats{}, err
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)

	return DiskStats{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}

func (p *LocalProvider) resolve(path string) (string, error) {
	path = strings.TrimPrefix(path, "file://")
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.basePath, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(p.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return path, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
