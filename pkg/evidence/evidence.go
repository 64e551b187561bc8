// Package evidence captures the runtime outputs of a workorder run into a
// deterministic zip plus a manifest of SHA-256 digests. Determinism is the
// point: identical input directories produce identical entry order, arc
// names, and digests, so two archives of the same run are comparable
// byte-for-byte during audit.
package evidence

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/cacheindex"
	"github.com/agenda-podcast/Platform-sub001/pkg/canonical"
	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
)

const archiveType = "runtime_evidence"

// Zip entry timestamps are pinned so archive bytes do not depend on file
// mtimes.
var entryEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// FileEntry is one manifest row.
type FileEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest describes an archive for audit.
type Manifest struct {
	BillingStateVersion string      `json:"billing_state_version"`
	Type                string      `json:"type"`
	TenantID            string      `json:"tenant_id"`
	WorkOrderID         string      `json:"work_order_id"`
	CreatedAt           string      `json:"created_at"`
	ZipName             string      `json:"zip_name"`
	Files               []FileEntry `json:"files"`
}

// Archive is the result of one archival pass.
type Archive struct {
	ZipPath      string
	ManifestPath string
	Manifest     Manifest
}

// Archiver writes evidence archives into ledger-adjacent storage.
type Archiver struct {
	runtimeRoot         string
	outputDir           string
	billingStateVersion string
	index               *cacheindex.Index
	clock               func() time.Time
}

// New creates an Archiver. runtimeRoot is the directory holding
// runs/<tenant>/<workorder>/ trees; outputDir receives the zip and
// manifest.
func New(runtimeRoot, outputDir, billingStateVersion string) *Archiver {
	return &Archiver{
		runtimeRoot:         runtimeRoot,
		outputDir:           outputDir,
		billingStateVersion: billingStateVersion,
		clock:               time.Now,
	}
}

// WithClock overrides the clock for testing.
func (a *Archiver) WithClock(clock func() time.Time) *Archiver {
	a.clock = clock
	return a
}

// WithIndex registers produced archives in the cache index.
func (a *Archiver) WithIndex(ix *cacheindex.Index) *Archiver {
	a.index = ix
	return a
}

// Archive zips every file under runs/<tenant>/<workorder>/ in lexicographic
// order and writes the manifest beside the zip. Both are registered in the
// cache index when one is attached. A run that produced no files still gets
// an archive: absence of output is evidence too.
func (a *Archiver) Archive(ctx context.Context, tenantID, workOrderID string) (Archive, error) {
	sourceDir := filepath.Join(a.runtimeRoot, "runs", tenantID, workOrderID)
	relPaths, err := collectFiles(sourceDir)
	if err != nil {
		return Archive{}, fmt.Errorf("evidence: scan %s: %w", sourceDir, err)
	}

	now := a.clock().UTC()
	baseName := fmt.Sprintf("%s__tenant=%s__workorder=%s__%s",
		archiveType, tenantID, workOrderID, ident.Stamp(now))
	zipName := baseName + ".zip"
	manifestName := baseName + ".manifest.json"
	zipPath := filepath.Join(a.outputDir, zipName)
	manifestPath := filepath.Join(a.outputDir, manifestName)

	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return Archive{}, fmt.Errorf("evidence: mkdir %s: %w", a.outputDir, err)
	}

	arcRoot := path.Join(archiveType, "runs", tenantID, workOrderID)
	files, err := writeZip(zipPath, sourceDir, arcRoot, relPaths)
	if err != nil {
		return Archive{}, err
	}

	manifest := Manifest{
		BillingStateVersion: a.billingStateVersion,
		Type:                archiveType,
		TenantID:            tenantID,
		WorkOrderID:         workOrderID,
		CreatedAt:           ident.Timestamp(now),
		ZipName:             zipName,
		Files:               files,
	}
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Archive{}, fmt.Errorf("evidence: marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, append(payload, '\n'), 0o644); err != nil {
		return Archive{}, fmt.Errorf("evidence: write manifest: %w", err)
	}

	if a.index != nil {
		if _, err := a.index.Record(ctx, cacheindex.PlaceEvidence, "zip", zipPath); err != nil {
			return Archive{}, err
		}
		if _, err := a.index.Record(ctx, cacheindex.PlaceEvidence, "manifest", manifestPath); err != nil {
			return Archive{}, err
		}
	}
	return Archive{ZipPath: zipPath, ManifestPath: manifestPath, Manifest: manifest}, nil
}

// collectFiles lists files under dir as sorted slash-separated relative
// paths. A missing directory reads as empty.
func collectFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func writeZip(zipPath, sourceDir, arcRoot string, relPaths []string) ([]FileEntry, error) {
	f, err := os.Create(zipPath)
	if err != nil {
		return nil, fmt.Errorf("evidence: create %s: %w", zipPath, err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	files := make([]FileEntry, 0, len(relPaths))
	for _, rel := range relPaths {
		src, err := os.Open(filepath.Join(sourceDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("evidence: open %s: %w", rel, err)
		}
		data, err := io.ReadAll(src)
		_ = src.Close()
		if err != nil {
			return nil, fmt.Errorf("evidence: read %s: %w", rel, err)
		}

		arcName := path.Join(arcRoot, rel)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     arcName,
			Method:   zip.Deflate,
			Modified: entryEpoch,
		})
		if err != nil {
			return nil, fmt.Errorf("evidence: entry %s: %w", arcName, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("evidence: write %s: %w", arcName, err)
		}
		files = append(files, FileEntry{Path: arcName, SHA256: canonical.HashBytes(data)})
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("evidence: finalize %s: %w", zipPath, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("evidence: fsync %s: %w", zipPath, err)
	}
	return files, nil
}
