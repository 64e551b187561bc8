package cacheindex

import (
	"context"
	"sync"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

var csvHeaders = []string{"place", "type", "ref", "created_at", "expires_at"}

// CSVStore keeps the index in a ledger-adjacent CSV table. Writes rewrite
// the whole table atomically; the index is small and append-mostly.
type CSVStore struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	loaded  bool
}

// NewCSVStore creates a store backed by the CSV file at path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) load() error {
	if s.loaded {
		return nil
	}
	rows, err := tabular.Read(s.path)
	if err != nil {
		return err
	}
	for _, row := range rows {
		created, err := time.Parse(time.RFC3339, row["created_at"])
		if err != nil {
			continue // skip rows a prior release wrote malformed
		}
		expires, err := time.Parse(time.RFC3339, row["expires_at"])
		if err != nil {
			continue
		}
		s.entries = append(s.entries, Entry{
			Place:     row["place"],
			Type:      row["type"],
			Ref:       row["ref"],
			CreatedAt: created,
			ExpiresAt: expires,
		})
	}
	s.loaded = true
	return nil
}

func (s *CSVStore) flush() error {
	rows := make([]map[string]string, len(s.entries))
	for i, e := range s.entries {
		rows[i] = map[string]string{
			"place":      e.Place,
			"type":       e.Type,
			"ref":        e.Ref,
			"created_at": ident.Timestamp(e.CreatedAt),
			"expires_at": ident.Timestamp(e.ExpiresAt),
		}
	}
	return tabular.WriteAtomic(s.path, csvHeaders, rows)
}

func (s *CSVStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return s.flush()
}

func (s *CSVStore) List(_ context.Context, place string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range s.entries {
		if e.Place == place {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *CSVStore) Expired(_ context.Context, at time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range s.entries {
		if !e.ExpiresAt.After(at) {
			out = append(out, e)
		}
	}
	return out, nil
}
