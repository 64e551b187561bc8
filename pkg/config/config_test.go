package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"ORCH_TENANT_ROOT", "ORCH_LEDGER_DIR", "ORCH_WORKER_POOL",
		"ORCH_REDIS_ADDR", "ORCH_BILLING_STATE_VERSION",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
	cfg := Load()
	assert.Equal(t, "tenants", cfg.TenantRoot)
	assert.Equal(t, "ledger", cfg.LedgerDir)
	assert.Equal(t, "v1", cfg.BillingStateVersion)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ORCH_TENANT_ROOT", "/srv/tenants")
	t.Setenv("ORCH_WORKER_POOL", "8")
	t.Setenv("ORCH_REDIS_ADDR", "localhost:6379")
	t.Setenv("ORCH_TELEMETRY", "true")

	cfg := Load()
	assert.Equal(t, "/srv/tenants", cfg.TenantRoot)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.True(t, cfg.Telemetry)
}

func TestWorkerPoolRejectsGarbage(t *testing.T) {
	t.Setenv("ORCH_WORKER_POOL", "lots")
	assert.Equal(t, 4, Load().WorkerPoolSize)

	t.Setenv("ORCH_WORKER_POOL", "-2")
	assert.Equal(t, 4, Load().WorkerPoolSize)
}

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "profile_"+name+".yaml"), []byte(content), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "prod", `
name: production
timeouts:
  transform_seconds: 90
  delivery_seconds: 900
ttls:
  - place: evidence
    type: zip
    hours: 720
`)

	p, err := LoadProfile(dir, "PROD")
	require.NoError(t, err)
	assert.Equal(t, "production", p.Name)

	timeouts := p.ModuleTimeouts()
	assert.Equal(t, 90*time.Second, timeouts[registry.KindTransform])
	assert.Equal(t, 900*time.Second, timeouts[registry.KindDelivery])
	// Unset kinds keep the shipped defaults.
	assert.Equal(t, 120*time.Second, timeouts[registry.KindAcquisition])
	assert.Equal(t, 300*time.Second, timeouts[registry.KindPackaging])

	policy := p.TTLPolicy()
	ttl, err := policy.TTL("evidence", "zip")
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, ttl)
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "absent")
	assert.Error(t, err)
}

func TestLoadProfileDefaultsNameFromFile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "dev", "timeouts:\n  transform_seconds: 10\n")
	p, err := LoadProfile(dir, "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", p.Name)
}
