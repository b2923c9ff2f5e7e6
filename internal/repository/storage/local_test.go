package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndFetch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	ctx := context.Background()

	locator, err := s.Save(ctx, "f1.mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(locator))

	data, err := os.ReadFile(locator)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	path, cleanup, err := s.Fetch(ctx, locator)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, locator, path)
}

func TestLocalStorageFetchMissing(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, _, err = s.Fetch(context.Background(), "/nonexistent/f1.mp4")
	assert.Error(t, err)
}
