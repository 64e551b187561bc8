// Package publisher uploads packaged artifacts for workorders that end in
// AWAITING_PUBLISH and produces receipts the executor records against the
// run. Publishing sits outside the billing core: a failed upload never
// touches the ledger, it just leaves the run awaiting publish.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Receipt proves one artifact was published.
type Receipt struct {
	TenantID    string    `json:"tenant_id"`
	WorkOrderID string    `json:"work_order_id"`
	ArtifactRef string    `json:"artifact_ref"`
	Location    string    `json:"location"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher uploads one local artifact and returns its receipt.
// Implementations must be idempotent: re-publishing an artifact that is
// already present remotely (same size and hash) skips the upload and
// returns a receipt for the existing object.
type Publisher interface {
	Publish(ctx context.Context, tenantID, workOrderID, artifactPath string) (Receipt, error)
}

// LocalDir publishes by copying into a directory tree, for air-gapped
// deployments and tests.
type LocalDir struct {
	Root  string
	clock func() time.Time
}

// NewLocalDir creates a directory-backed publisher.
func NewLocalDir(root string) *LocalDir {
	return &LocalDir{Root: root, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (p *LocalDir) WithClock(clock func() time.Time) *LocalDir {
	p.clock = clock
	return p
}

func (p *LocalDir) Publish(_ context.Context, tenantID, workOrderID, artifactPath string) (Receipt, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return Receipt{}, fmt.Errorf("publisher: read %s: %w", artifactPath, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	destDir := filepath.Join(p.Root, tenantID, workOrderID)
	dest := filepath.Join(destDir, filepath.Base(artifactPath))

	// Idempotent: an existing object with matching size and hash is kept.
	if prior, err := os.ReadFile(dest); err == nil {
		priorSum := sha256.Sum256(prior)
		if len(prior) == len(data) && priorSum == sum {
			return p.receipt(tenantID, workOrderID, artifactPath, dest, digest, int64(len(data))), nil
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("publisher: mkdir %s: %w", destDir, err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Receipt{}, fmt.Errorf("publisher: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return Receipt{}, fmt.Errorf("publisher: rename %s: %w", dest, err)
	}
	return p.receipt(tenantID, workOrderID, artifactPath, dest, digest, int64(len(data))), nil
}

func (p *LocalDir) receipt(tenantID, workOrderID, src, dest, digest string, size int64) Receipt {
	return Receipt{
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		ArtifactRef: src,
		Location:    "file://" + filepath.ToSlash(dest),
		SHA256:      digest,
		SizeBytes:   size,
		PublishedAt: p.clock().UTC(),
	}
}
