package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStorage(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(t.TempDir(), "http://localhost:8080/api/v1/blobs/")
	require.NoError(t, err)
	return s
}

func TestUpload_ReturnsURLAndStoresContent(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	url, err := UploadBytes(ctx, s, "u-1/evt-1.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1/blobs/u-1/evt-1.jpg", url)

	rc, err := s.Download(ctx, "u-1/evt-1.jpg")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got)
}

func TestUpload_Overwrites(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := UploadBytes(ctx, s, "u-1/followups/evt-1-1.jpg", []byte("first"), "image/jpeg")
	require.NoError(t, err)
	_, err = UploadBytes(ctx, s, "u-1/followups/evt-1-1.jpg", []byte("second"), "image/jpeg")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.BasePath(), "u-1", "followups", "evt-1-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Join(s.BasePath(), "u-1", "followups"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestTraversalStaysInsideBase(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	_, err := UploadBytes(ctx, s, "../../escape.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.BasePath(), "escape.jpg"))
	assert.NoError(t, err, "path is clamped under the base directory")

	_, err = UploadBytes(ctx, s, "..", []byte("x"), "image/jpeg")
	assert.Error(t, err)
}

func TestExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	ok, err := s.Exists(ctx, "u-1/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = UploadBytes(ctx, s, "u-1/a.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	ok, err = s.Exists(ctx, "u-1/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "u-1/a.jpg"))
	require.NoError(t, s.Delete(ctx, "u-1/a.jpg"), "delete is idempotent")

	_, err = s.Download(ctx, "u-1/a.jpg")
	assert.True(t, errors.Is(err, ErrNotFound))
}
