// Package cacheindex records references to durable external objects
// (evidence archives, packaged artifacts, published uploads) together with
// an expiry, so downstream pruning can reclaim them without scanning
// storage. Entries are pure records; the index never touches the objects
// themselves.
package cacheindex

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Well-known places.
const (
	PlaceEvidence  = "evidence"
	PlaceArtifacts = "artifacts"
	PlacePublished = "published"
)

// ErrNoTTL is returned when no TTL is configured for a (place, type) pair.
// Fail closed: an entry without an expiry would never be pruned.
var ErrNoTTL = errors.New("cacheindex: no ttl configured")

// Entry is one recorded reference.
type Entry struct {
	Place     string    `json:"place"`
	Type      string    `json:"type"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTLPolicy resolves retention per (place, type).
type TTLPolicy map[string]time.Duration

func policyKey(place, typ string) string { return place + "\x00" + typ }

// NewTTLPolicy builds a policy from (place, type) → duration entries.
func NewTTLPolicy() TTLPolicy { return TTLPolicy{} }

// Set registers the TTL for a (place, type) pair.
func (p TTLPolicy) Set(place, typ string, ttl time.Duration) TTLPolicy {
	p[policyKey(place, typ)] = ttl
	return p
}

// TTL resolves the retention for a pair.
func (p TTLPolicy) TTL(place, typ string) (time.Duration, error) {
	ttl, ok := p[policyKey(place, typ)]
	if !ok {
		return 0, fmt.Errorf("%w: place=%s type=%s", ErrNoTTL, place, typ)
	}
	return ttl, nil
}

// Store persists index entries.
type Store interface {
	Put(ctx context.Context, e Entry) error
	List(ctx context.Context, place string) ([]Entry, error)
	// Expired returns entries whose expiry is at or before the instant.
	Expired(ctx context.Context, at time.Time) ([]Entry, error)
}

// Index applies the TTL policy on top of a store.
type Index struct {
	store  Store
	policy TTLPolicy
	clock  func() time.Time
}

// New creates an Index.
func New(store Store, policy TTLPolicy) *Index {
	return &Index{store: store, policy: policy, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (ix *Index) WithClock(clock func() time.Time) *Index {
	ix.clock = clock
	return ix
}

// Record registers a reference, stamping creation and expiry from the
// configured TTL.
func (ix *Index) Record(ctx context.Context, place, typ, ref string) (Entry, error) {
	ttl, err := ix.policy.TTL(place, typ)
	if err != nil {
		return Entry{}, err
	}
	now := ix.clock().UTC()
	e := Entry{
		Place:     place,
		Type:      typ,
		Ref:       ref,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := ix.store.Put(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("cacheindex: record %s/%s: %w", place, typ, err)
	}
	return e, nil
}

// List returns the recorded entries for a place.
func (ix *Index) List(ctx context.Context, place string) ([]Entry, error) {
	return ix.store.List(ctx, place)
}

// Expired returns entries past their expiry as of now.
func (ix *Index) Expired(ctx context.Context) ([]Entry, error) {
	return ix.store.Expired(ctx, ix.clock().UTC())
}
