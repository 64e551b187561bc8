// Package config loads orchestrator configuration: environment variables
// for deployment wiring, plus optional YAML operating profiles carrying
// retention TTLs and per-kind module timeouts.
package config

import (
	"os"
	"strconv"
)

// Config holds the orchestrator's deployment configuration.
type Config struct {
	TenantRoot          string // workorder documents and the queue CSV
	LedgerDir           string // CSV ledger tables and the cache index
	RuntimeRoot         string // per-run output trees
	EvidenceDir         string // archive output, ledger-adjacent
	MaintenanceDir      string // compiled catalogs and price tables
	FixturesRoot        string // self-test fixture files; empty disables
	BillingStateVersion string
	WorkerPoolSize      int
	LogLevel            string

	RedisAddr    string // empty keeps the cache index on CSV
	PostgresURL  string // empty keeps the ledger on CSV
	S3Bucket     string
	S3Region     string
	OTLPEndpoint string
	Telemetry    bool
}

// Load reads configuration from environment variables, with local-run
// defaults.
func Load() *Config {
	cfg := &Config{
		TenantRoot:          envOr("ORCH_TENANT_ROOT", "tenants"),
		LedgerDir:           envOr("ORCH_LEDGER_DIR", "ledger"),
		RuntimeRoot:         envOr("ORCH_RUNTIME_ROOT", "runtime"),
		EvidenceDir:         envOr("ORCH_EVIDENCE_DIR", "ledger/evidence"),
		MaintenanceDir:      envOr("ORCH_MAINTENANCE_DIR", "maintenance_state"),
		FixturesRoot:        os.Getenv("ORCH_FIXTURES_ROOT"),
		BillingStateVersion: envOr("ORCH_BILLING_STATE_VERSION", "v1"),
		LogLevel:            envOr("LOG_LEVEL", "INFO"),
		RedisAddr:           os.Getenv("ORCH_REDIS_ADDR"),
		PostgresURL:         os.Getenv("ORCH_POSTGRES_URL"),
		S3Bucket:            os.Getenv("ORCH_S3_BUCKET"),
		S3Region:            envOr("ORCH_S3_REGION", "us-east-1"),
		OTLPEndpoint:        envOr("ORCH_OTLP_ENDPOINT", "localhost:4317"),
		Telemetry:           os.Getenv("ORCH_TELEMETRY") == "true",
	}

	cfg.WorkerPoolSize = 4
	if raw := os.Getenv("ORCH_WORKER_POOL"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.WorkerPoolSize = n
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
