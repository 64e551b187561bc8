// Command orchestrator executes declarative workorders against the credit
// ledger. It is a thin wrapper: document semantics, billing, and refunds
// live in pkg/executor and its collaborators; this binary only wires
// stores, catalogs, and transports from configuration.
//
// Exit codes: 0 success, 2 preflight or validation failure, 1 for
// infrastructure errors.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/agenda-podcast/Platform-sub001/pkg/audit"
	"github.com/agenda-podcast/Platform-sub001/pkg/cacheindex"
	"github.com/agenda-podcast/Platform-sub001/pkg/config"
	"github.com/agenda-podcast/Platform-sub001/pkg/evidence"
	"github.com/agenda-podcast/Platform-sub001/pkg/executor"
	"github.com/agenda-podcast/Platform-sub001/pkg/ledger"
	"github.com/agenda-podcast/Platform-sub001/pkg/modules"
	"github.com/agenda-podcast/Platform-sub001/pkg/observability"
	"github.com/agenda-podcast/Platform-sub001/pkg/pricebook"
	"github.com/agenda-podcast/Platform-sub001/pkg/publisher"
	"github.com/agenda-podcast/Platform-sub001/pkg/reason"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/runstate"
	"github.com/agenda-podcast/Platform-sub001/pkg/secrets"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "run":
		return runWorkOrder(args[2:], stdout, stderr)
	case "queue":
		return runQueue(args[2:], stdout, stderr)
	case "selftest":
		return runSelfTest(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: orchestrator <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  run <workorder.yaml>   Execute one workorder document")
	_, _ = fmt.Fprintln(w, "  queue [queue.csv]      Execute every enabled queue entry")
	_, _ = fmt.Fprintln(w, "  selftest               Exercise the module ABI with built-ins")
	_, _ = fmt.Fprintln(w, "  help                   Show this message")
}

func runWorkOrder(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: orchestrator run <workorder.yaml>")
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := assemble(ctx, config.Load())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "orchestrator: %v\n", err)
		return 1
	}
	defer env.close(ctx)

	out, err := env.exec.Execute(ctx, args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "orchestrator: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s %s: %s (estimated=%d refunded=%d)\n",
		out.TenantID, out.WorkOrderID, out.Status, out.Estimated, out.Refunded)
	return exitCode(out)
}

func runQueue(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	queuePath := filepath.Join(cfg.TenantRoot, "queue.csv")
	if len(args) > 0 {
		queuePath = args[0]
	}

	env, err := assemble(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "orchestrator: %v\n", err)
		return 1
	}
	defer env.close(ctx)

	results, err := env.exec.RunQueue(ctx, queuePath, cfg.WorkerPoolSize)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "orchestrator: %v\n", err)
		return 1
	}

	code := 0
	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(stderr, "%s %s: %v\n", r.Entry.TenantID, r.Entry.WorkOrderID, r.Err)
			code = 1
			continue
		}
		_, _ = fmt.Fprintf(stdout, "%s %s: %s (estimated=%d refunded=%d)\n",
			r.Outcome.TenantID, r.Outcome.WorkOrderID, r.Outcome.Status,
			r.Outcome.Estimated, r.Outcome.Refunded)
		if c := exitCode(r.Outcome); c > code {
			code = c
		}
	}
	return code
}

// runSelfTest drives every built-in self-test module through the runner
// ABI, without touching the ledger or any tenant state.
func runSelfTest(stdout, stderr io.Writer) int {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "orchestrator-selftest-*")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "orchestrator: %v\n", err)
		return 1
	}
	defer func() { _ = os.RemoveAll(dir) }()

	checks := []struct {
		name string
		spec string
		want modules.Status
	}{
		{"static", "static", modules.StatusCompleted},
		{"echo", "echo", modules.StatusCompleted},
		{"fail", "fail:upstream_down", modules.StatusFailed},
		{"sleep", "sleep:10ms", modules.StatusCompleted},
	}
	failed := false
	for _, c := range checks {
		m, ok := modules.FromSpec(c.spec)
		if !ok {
			_, _ = fmt.Fprintf(stderr, "selftest %s: unknown spec %q\n", c.name, c.spec)
			failed = true
			continue
		}
		res := modules.Run(ctx, m, registry.KindTransform, modules.DefaultTimeouts(),
			map[string]any{"probe": c.name}, filepath.Join(dir, c.name))
		if res.Status != c.want {
			_, _ = fmt.Fprintf(stderr, "selftest %s: status %s, want %s (reason=%s)\n",
				c.name, res.Status, c.want, res.ReasonSlug)
			failed = true
			continue
		}
		_, _ = fmt.Fprintf(stdout, "selftest %s: ok\n", c.name)
	}
	if failed {
		return 1
	}
	return 0
}

func exitCode(out executor.Outcome) int {
	switch out.ReasonSlug {
	case reason.SlugValidationError, reason.SlugSecretsMissing, reason.SlugNotEnoughCredits:
		return 2
	}
	if out.Status == runstate.StatusFailed {
		return 1
	}
	return 0
}

// environment holds the assembled executor plus the handles that need
// closing at exit.
type environment struct {
	exec      *executor.Executor
	runs      *runstate.SQLiteStore
	pg        *sql.DB
	rd        *redis.Client
	telemetry *observability.Provider
}

func (e *environment) close(ctx context.Context) {
	if e.telemetry != nil {
		if err := e.telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}
	if e.runs != nil {
		_ = e.runs.Close()
	}
	if e.pg != nil {
		_ = e.pg.Close()
	}
	if e.rd != nil {
		_ = e.rd.Close()
	}
}

// assemble wires every collaborator from configuration. CSV stores are the
// default; Postgres, Redis, and S3 switch in when their endpoints are
// configured.
func assemble(ctx context.Context, cfg *config.Config) (*environment, error) {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	env := &environment{}

	contracts, err := registry.LoadCatalog(cfg.MaintenanceDir)
	if err != nil {
		return nil, fmt.Errorf("module catalog: %w", err)
	}
	reasons, err := reason.LoadCatalog(cfg.MaintenanceDir)
	if err != nil {
		return nil, fmt.Errorf("reason catalog: %w", err)
	}
	prices, err := pricebook.Load(
		filepath.Join(cfg.TenantRoot, "price_table.csv"),
		filepath.Join(cfg.MaintenanceDir, "price_table.csv"),
	)
	if err != nil {
		return nil, fmt.Errorf("price tables: %w", err)
	}
	secretStore, err := secrets.LoadFile(filepath.Join(cfg.TenantRoot, "secrets.env"))
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	var ledgerStore ledger.Store
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		env.pg = db
		pg := ledger.NewPostgresStore(db)
		if err := pg.Init(ctx); err != nil {
			env.close(ctx)
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		ledgerStore = pg
	} else {
		ledgerStore = ledger.NewCSVStore(cfg.LedgerDir)
	}
	l, err := ledger.Open(ctx, ledgerStore, ledger.WithLogger(logger))
	if err != nil {
		env.close(ctx)
		return nil, fmt.Errorf("ledger: %w", err)
	}

	runs, err := runstate.OpenSQLite(filepath.Join(cfg.LedgerDir, "runstate.db"))
	if err != nil {
		env.close(ctx)
		return nil, fmt.Errorf("run state: %w", err)
	}
	env.runs = runs

	profile, err := config.LoadProfile(cfg.MaintenanceDir, envOr("ORCH_PROFILE", "default"))
	if errors.Is(err, os.ErrNotExist) {
		profile = defaultProfile()
	} else if err != nil {
		env.close(ctx)
		return nil, fmt.Errorf("profile: %w", err)
	}

	var indexStore cacheindex.Store
	if cfg.RedisAddr != "" {
		env.rd = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		indexStore = cacheindex.NewRedisStore(env.rd, "")
	} else {
		indexStore = cacheindex.NewCSVStore(filepath.Join(cfg.LedgerDir, "cache_index.csv"))
	}
	index := cacheindex.New(indexStore, profile.TTLPolicy())

	archiver := evidence.New(cfg.RuntimeRoot, cfg.EvidenceDir, cfg.BillingStateVersion).
		WithIndex(index)

	var pub publisher.Publisher
	if cfg.S3Bucket != "" {
		pub, err = publisher.NewS3Publisher(ctx, publisher.S3Config{
			Bucket: cfg.S3Bucket,
			Region: cfg.S3Region,
		})
		if err != nil {
			env.close(ctx)
			return nil, fmt.Errorf("publisher: %w", err)
		}
	} else {
		pub = publisher.NewLocalDir(filepath.Join(cfg.LedgerDir, "published"))
	}

	var metrics *observability.Provider
	if cfg.Telemetry {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = true
		metrics, err = observability.New(ctx, obsCfg)
		if err != nil {
			env.close(ctx)
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		env.telemetry = metrics
	}

	table := modules.NewTable()
	for _, c := range contracts.Contracts() {
		m, ok := modules.FromSpec(c.SelfTest)
		if !ok {
			continue
		}
		if err := table.Register(c.ModuleID, m); err != nil {
			env.close(ctx)
			return nil, fmt.Errorf("module table: %w", err)
		}
	}

	exec, err := executor.New(executor.Context{
		Contracts:    contracts,
		Prices:       prices,
		Reasons:      reasons,
		Secrets:      secretStore,
		Ledger:       l,
		Runs:         runs,
		Modules:      table,
		Archiver:     archiver,
		Timeouts:     profile.ModuleTimeouts(),
		RuntimeRoot:  cfg.RuntimeRoot,
		FixturesRoot: cfg.FixturesRoot,
		Publisher:    pub,
		Audit:        audit.NewLogger(),
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		env.close(ctx)
		return nil, err
	}
	env.exec = exec
	return env, nil
}

// defaultProfile covers local runs without a maintenance-state profile:
// shipped timeouts, thirty-day retention on evidence and published
// artifacts.
func defaultProfile() *config.Profile {
	return &config.Profile{
		Name: "default",
		TTLs: []config.RetentionRule{
			{Place: cacheindex.PlaceEvidence, Type: "zip", Hours: 720},
			{Place: cacheindex.PlaceEvidence, Type: "manifest", Hours: 720},
			{Place: cacheindex.PlacePublished, Type: "artifact", Hours: 720},
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
