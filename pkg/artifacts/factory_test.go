package artifacts

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFromEnv_Default(t *testing.T) {
	t.Setenv("DOOVER_ARTIFACT_STORE", "")
	t.Setenv("DOOVER_ARTIFACT_DIR", "")
	dir := filepath.Join(t.TempDir(), "packages")

	store, err := NewStoreFromEnv(context.Background(), dir)
	require.NoError(t, err)
	fs, ok := store.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", store)
	assert.Equal(t, dir, fs.Dir())
}

func TestNewStoreFromEnv_ExplicitDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOOVER_ARTIFACT_STORE", "fs")
	t.Setenv("DOOVER_ARTIFACT_DIR", dir)

	store, err := NewStoreFromEnv(context.Background(), "unused")
	require.NoError(t, err)
	assert.Equal(t, dir, store.(*FileStore).Dir())
}

func TestNewStoreFromEnv_S3MissingBucket(t *testing.T) {
	t.Setenv("DOOVER_ARTIFACT_STORE", "s3")
	t.Setenv("DOOVER_ARTIFACT_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background(), t.TempDir())
	require.ErrorContains(t, err, "DOOVER_ARTIFACT_S3_BUCKET is required")
}

func TestNewStoreFromEnv_GCSMissingBucket(t *testing.T) {
	t.Setenv("DOOVER_ARTIFACT_STORE", "gcs")
	t.Setenv("DOOVER_ARTIFACT_GCS_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background(), t.TempDir())
	require.Error(t, err)
	// Builds without the gcp tag report that instead.
	if strings.Contains(err.Error(), "not enabled in this build") {
		return
	}
	assert.Contains(t, err.Error(), "DOOVER_ARTIFACT_GCS_BUCKET is required")
}

func TestNewStoreFromEnv_UnsupportedType(t *testing.T) {
	t.Setenv("DOOVER_ARTIFACT_STORE", "azure")

	_, err := NewStoreFromEnv(context.Background(), t.TempDir())
	require.ErrorContains(t, err, "unsupported artifact storage type")
}
