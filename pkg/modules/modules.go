// Package modules defines the invocation surface every pluggable unit of
// work implements, the process-local registration table, and the per-kind
// timeout policy the executor applies around each call.
package modules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
)

// Status is a module's reported outcome.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Result is what a module invocation reports back. Artifacts land in the
// outputs directory; Outputs carries the declared output port values later
// steps may bind to.
type Result struct {
	Status         Status
	ReasonSlug     string
	RefundEligible bool
	OutputRef      string
	Metadata       map[string]any
	Outputs        map[string]any
}

// Module is one pluggable unit of work. Invoke must honor ctx cancellation;
// the runner enforces the per-kind deadline around it.
type Module interface {
	Invoke(ctx context.Context, params map[string]any, outputsDir string) (Result, error)
}

// Func adapts a function to the Module interface.
type Func func(ctx context.Context, params map[string]any, outputsDir string) (Result, error)

func (f Func) Invoke(ctx context.Context, params map[string]any, outputsDir string) (Result, error) {
	return f(ctx, params, outputsDir)
}

// Table is the process-local registration table mapping module IDs (match
// form) to implementations.
type Table struct {
	mu   sync.RWMutex
	byID map[string]Module
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byID: make(map[string]Module)}
}

// Register adds an implementation. Later registrations replace earlier
// ones, which lets self-test runs shadow production modules.
func (t *Table) Register(moduleID string, m Module) error {
	key, err := ident.CanonicalForMatch(moduleID)
	if err != nil {
		return fmt.Errorf("modules: register: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[key] = m
	return nil
}

// Get resolves an implementation.
func (t *Table) Get(moduleID string) (Module, bool) {
	key, err := ident.CanonicalForMatch(moduleID)
	if err != nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byID[key]
	return m, ok
}

// Timeouts holds the per-kind invocation deadlines.
type Timeouts map[registry.Kind]time.Duration

// DefaultTimeouts returns the shipped deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		registry.KindAcquisition: 120 * time.Second,
		registry.KindTransform:   60 * time.Second,
		registry.KindPackaging:   300 * time.Second,
		registry.KindDelivery:    600 * time.Second,
	}
}

// For resolves the deadline for a kind; unknown kinds get the transform
// deadline as the most conservative default.
func (t Timeouts) For(kind registry.Kind) time.Duration {
	if d, ok := t[kind]; ok && d > 0 {
		return d
	}
	return 60 * time.Second
}
