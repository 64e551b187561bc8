// Package secrets loads the secret values module contracts require.
// Values come from the environment, optionally overlaid with a dotenv-style
// file per deployment. Placeholder values left by provisioning templates
// count as missing so they fail preflight instead of a live module call.
package secrets

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Store resolves secret keys to values.
type Store interface {
	Get(key string) (string, bool)
}

// Resolved reports whether the store holds a usable (non-placeholder)
// value for key.
func Resolved(s Store, key string) bool {
	v, ok := s.Get(key)
	return ok && !IsPlaceholder(v)
}

// IsPlaceholder detects template values that were never filled in.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		return true
	}
	switch strings.ToUpper(v) {
	case "CHANGEME", "CHANGE_ME", "REPLACE_ME", "TODO", "XXX", "PLACEHOLDER":
		return true
	}
	return false
}

// EnvStore reads secrets from process environment variables.
type EnvStore struct{}

func (EnvStore) Get(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapStore serves a fixed map; used by tests and self-tests.
type MapStore map[string]string

func (m MapStore) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Layered queries stores in order and returns the first hit.
type Layered []Store

func (l Layered) Get(key string) (string, bool) {
	for _, s := range l {
		if v, ok := s.Get(key); ok {
			return v, true
		}
	}
	return "", false
}

// LoadFile parses a dotenv-style file (KEY=VALUE lines, # comments) into a
// MapStore. A missing file yields an empty store.
func LoadFile(path string) (MapStore, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return MapStore{}, nil
		}
		return nil, fmt.Errorf("secrets: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	store := MapStore{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		store[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	return store, nil
}
