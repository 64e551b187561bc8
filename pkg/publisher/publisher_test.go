package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDirPublish(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bundle.tar")
	require.NoError(t, os.WriteFile(src, []byte("artifact-bytes"), 0o644))
	root := t.TempDir()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p := NewLocalDir(root).WithClock(func() time.Time { return at })
	r, err := p.Publish(context.Background(), "t1", "wo1", src)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("artifact-bytes"))
	assert.Equal(t, hex.EncodeToString(sum[:]), r.SHA256)
	assert.Equal(t, int64(len("artifact-bytes")), r.SizeBytes)
	assert.Equal(t, at, r.PublishedAt)

	dest := filepath.Join(root, "t1", "wo1", "bundle.tar")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "artifact-bytes", string(data))
	assert.Equal(t, "file://"+filepath.ToSlash(dest), r.Location)
}

func TestLocalDirPublishIdempotent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bundle.tar")
	require.NoError(t, os.WriteFile(src, []byte("same"), 0o644))
	root := t.TempDir()
	p := NewLocalDir(root)

	first, err := p.Publish(context.Background(), "t1", "wo1", src)
	require.NoError(t, err)

	// Make the existing copy detectably older than a rewrite would be.
	dest := filepath.Join(root, "t1", "wo1", "bundle.tar")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(dest, old, old))

	second, err := p.Publish(context.Background(), "t1", "wo1", src)
	require.NoError(t, err)
	assert.Equal(t, first.SHA256, second.SHA256)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Before(time.Now().Add(-time.Minute)),
		"matching artifact not rewritten")
}

func TestLocalDirPublishReplacesChangedArtifact(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bundle.tar")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0o644))
	root := t.TempDir()
	p := NewLocalDir(root)
	ctx := context.Background()

	_, err := p.Publish(ctx, "t1", "wo1", src)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("v2"), 0o644))
	r, err := p.Publish(ctx, "t1", "wo1", src)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "t1", "wo1", "bundle.tar"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	sum := sha256.Sum256([]byte("v2"))
	assert.Equal(t, hex.EncodeToString(sum[:]), r.SHA256)
}

func TestLocalDirMissingArtifact(t *testing.T) {
	p := NewLocalDir(t.TempDir())
	_, err := p.Publish(context.Background(), "t1", "wo1", "/no/such/file")
	assert.Error(t, err)
}
