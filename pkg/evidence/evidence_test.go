package evidence

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform-sub001/pkg/cacheindex"
)

func seedRun(t *testing.T, runtimeRoot string) {
	t.Helper()
	dir := filepath.Join(runtimeRoot, "runs", "t1", "wo1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "s1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "s2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s2", "bundle.tar"), []byte("tar-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s1", "results.json"), []byte(`{"n":3}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s1", "outputs.json"), []byte(`{}`), 0o644))
}

func newArchiver(t *testing.T, runtimeRoot, outputDir string, at time.Time) *Archiver {
	t.Helper()
	return New(runtimeRoot, outputDir, "v3").WithClock(func() time.Time { return at })
}

func TestArchiveNamesAndEntryOrder(t *testing.T) {
	runtimeRoot := t.TempDir()
	outputDir := t.TempDir()
	seedRun(t, runtimeRoot)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	arch, err := newArchiver(t, runtimeRoot, outputDir, at).Archive(context.Background(), "t1", "wo1")
	require.NoError(t, err)

	assert.Equal(t,
		"runtime_evidence__tenant=t1__workorder=wo1__20250601T120000Z.zip",
		filepath.Base(arch.ZipPath))
	assert.Equal(t,
		"runtime_evidence__tenant=t1__workorder=wo1__20250601T120000Z.manifest.json",
		filepath.Base(arch.ManifestPath))

	zr, err := zip.OpenReader(arch.ZipPath)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.Equal(t, zip.Deflate, f.Method)
	}
	assert.Equal(t, []string{
		"runtime_evidence/runs/t1/wo1/s1/outputs.json",
		"runtime_evidence/runs/t1/wo1/s1/results.json",
		"runtime_evidence/runs/t1/wo1/s2/bundle.tar",
	}, names, "lexicographic entry order")
}

func TestManifestDigestsMatchContents(t *testing.T) {
	runtimeRoot := t.TempDir()
	outputDir := t.TempDir()
	seedRun(t, runtimeRoot)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	arch, err := newArchiver(t, runtimeRoot, outputDir, at).Archive(context.Background(), "t1", "wo1")
	require.NoError(t, err)

	raw, err := os.ReadFile(arch.ManifestPath)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, "v3", m.BillingStateVersion)
	assert.Equal(t, "runtime_evidence", m.Type)
	assert.Equal(t, "t1", m.TenantID)
	assert.Equal(t, "wo1", m.WorkOrderID)
	assert.Equal(t, "2025-06-01T12:00:00Z", m.CreatedAt)
	assert.Equal(t, filepath.Base(arch.ZipPath), m.ZipName)
	require.Len(t, m.Files, 3)

	sum := sha256.Sum256([]byte("tar-bytes"))
	assert.Equal(t, hex.EncodeToString(sum[:]), m.Files[2].SHA256)
}

func TestArchiveIsReproducible(t *testing.T) {
	runtimeRoot := t.TempDir()
	seedRun(t, runtimeRoot)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	outA := t.TempDir()
	outB := t.TempDir()
	a, err := newArchiver(t, runtimeRoot, outA, at).Archive(context.Background(), "t1", "wo1")
	require.NoError(t, err)
	b, err := newArchiver(t, runtimeRoot, outB, at).Archive(context.Background(), "t1", "wo1")
	require.NoError(t, err)

	bytesA, err := os.ReadFile(a.ZipPath)
	require.NoError(t, err)
	bytesB, err := os.ReadFile(b.ZipPath)
	require.NoError(t, err)
	assert.Equal(t, bytesA, bytesB, "identical inputs produce identical zips")
	assert.Equal(t, a.Manifest.Files, b.Manifest.Files)
}

func TestEmptyRunStillArchived(t *testing.T) {
	runtimeRoot := t.TempDir()
	outputDir := t.TempDir()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	arch, err := newArchiver(t, runtimeRoot, outputDir, at).Archive(context.Background(), "t1", "wo-empty")
	require.NoError(t, err)
	assert.Empty(t, arch.Manifest.Files)

	zr, err := zip.OpenReader(arch.ZipPath)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	assert.Empty(t, zr.File)
}

func TestArchiveRegistersInCacheIndex(t *testing.T) {
	runtimeRoot := t.TempDir()
	outputDir := t.TempDir()
	seedRun(t, runtimeRoot)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	policy := cacheindex.NewTTLPolicy().
		Set(cacheindex.PlaceEvidence, "zip", 30*24*time.Hour).
		Set(cacheindex.PlaceEvidence, "manifest", 30*24*time.Hour)
	ix := cacheindex.New(cacheindex.NewCSVStore(filepath.Join(t.TempDir(), "cache_index.csv")), policy)

	archiver := newArchiver(t, runtimeRoot, outputDir, at).WithIndex(ix)
	arch, err := archiver.Archive(context.Background(), "t1", "wo1")
	require.NoError(t, err)

	entries, err := ix.List(context.Background(), cacheindex.PlaceEvidence)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, arch.ZipPath, entries[0].Ref)
	assert.Equal(t, arch.ManifestPath, entries[1].Ref)
}
