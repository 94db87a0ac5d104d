package clix

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transmute/internal/models"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("limit", 0, "")
	fs.Int("offset", 0, "")
	fs.String("status", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestParsePagination(t *testing.T) {
	p, err := ParsePagination(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 20, Offset: 0}, p)

	p, err = ParsePagination(newFlags(t, "--limit", "5", "--offset", "-3"))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 5, Offset: 0}, p)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, models.Status(""), s)

	s, err = ParseStatus(newFlags(t, "--status", " Failed "))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s)

	_, err = ParseStatus(newFlags(t, "--status", "exploded"))
	assert.Error(t, err)
}
