package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_Paths(t *testing.T) {
	root := t.TempDir()
	p, err := NewLocalProvider(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "outputs", "abc.mp4"), p.OutputPath("abc", ".mp4"))
	assert.Equal(t, filepath.Join(root, "outputs", "abc"), p.OutputPath("abc", ""))

	assert.DirExists(t, filepath.Join(root, "inputs"))
	assert.DirExists(t, filepath.Join(root, "outputs"))
}

func TestLocalProvider_DeleteMissingIsNotFound(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	err = p.Delete(context.Background(), p.OutputPath("gone", "png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalProvider_DeleteAndExists(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	path := p.OutputPath("job", "txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ok, err := p.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	f, meta, err := p.Open(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, meta.Size)
	assert.Contains(t, meta.ContentType, "text/plain")
	require.NoError(t, f.Close())

	require.NoError(t, p.Delete(ctx, path))
	ok, err = p.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalProvider_RejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	p, err := NewLocalProvider(filepath.Join(root, "work"))
	require.NoError(t, err)

	outside := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	err = p.Delete(context.Background(), outside)
	assert.ErrorIs(t, err, ErrOutsideRoot)
	err = p.Delete(context.Background(), "../secret.txt")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	assert.FileExists(t, outside)
}

func TestLocalProvider_ReserveInputIsUniquePerCall(t *testing.T) {
	root := t.TempDir()
	p, err := NewLocalProvider(root)
	require.NoError(t, err)

	first, err := p.ReserveInput("abc", "MOV")
	require.NoError(t, err)
	second, err := p.ReserveInput("abc", "MOV")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	for _, path := range []string{first, second} {
		assert.Equal(t, filepath.Join(root, "inputs"), filepath.Dir(path))
		assert.True(t, strings.HasPrefix(filepath.Base(path), "abc-"))
		assert.Equal(t, ".mov", filepath.Ext(path))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	}
}
