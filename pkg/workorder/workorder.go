// Package workorder models the declarative job documents tenants submit
// and the queue that schedules them.
package workorder

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
)

// Mode controls how a mid-plan failure affects sibling steps.
type Mode string

const (
	ModeAllOrNothing   Mode = "ALL_OR_NOTHING"
	ModePartialAllowed Mode = "PARTIAL_ALLOWED"
)

// ErrInvalidDocument is returned for structurally broken workorders.
var ErrInvalidDocument = errors.New("workorder: invalid document")

// Step is one module invocation inside a workorder.
type Step struct {
	StepID                string         `yaml:"step_id" json:"step_id"`
	ModuleID              string         `yaml:"module_id" json:"module_id"`
	Kind                  registry.Kind  `yaml:"kind" json:"kind"`
	Inputs                map[string]any `yaml:"inputs" json:"inputs,omitempty"`
	RequestedDeliverables []string       `yaml:"requested_deliverables" json:"requested_deliverables,omitempty"`
	Enabled               bool           `yaml:"enabled" json:"enabled"`
}

// WorkOrder is the declarative job request for one tenant.
type WorkOrder struct {
	WorkOrderID        string `yaml:"work_order_id" json:"work_order_id"`
	TenantID           string `yaml:"tenant_id" json:"tenant_id"`
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	Mode               Mode   `yaml:"mode" json:"mode"`
	ArtifactsRequested bool   `yaml:"artifacts_requested" json:"artifacts_requested"`
	Steps              []Step `yaml:"steps" json:"steps"`
}

// Load reads and shape-validates a workorder YAML document.
func Load(path string) (*WorkOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workorder: read %s: %w", path, err)
	}
	var wo WorkOrder
	if err := yaml.Unmarshal(data, &wo); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, path, err)
	}
	if err := wo.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &wo, nil
}

// Validate checks document shape: identifiers present, mode known, step IDs
// unique, kinds well-formed. Contract-level checks (kind matching the
// module's declared kind, port visibility) belong to preflight and binding.
func (wo *WorkOrder) Validate() error {
	if _, err := ident.Canonical(wo.WorkOrderID); err != nil {
		return fmt.Errorf("%w: work_order_id: %v", ErrInvalidDocument, err)
	}
	if _, err := ident.Canonical(wo.TenantID); err != nil {
		return fmt.Errorf("%w: tenant_id: %v", ErrInvalidDocument, err)
	}
	switch wo.Mode {
	case ModeAllOrNothing, ModePartialAllowed:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidDocument, wo.Mode)
	}
	if len(wo.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDocument)
	}
	seen := make(map[string]bool, len(wo.Steps))
	for i, s := range wo.Steps {
		if _, err := ident.Canonical(s.StepID); err != nil {
			return fmt.Errorf("%w: step %d: step_id: %v", ErrInvalidDocument, i, err)
		}
		if _, err := ident.Canonical(s.ModuleID); err != nil {
			return fmt.Errorf("%w: step %s: module_id: %v", ErrInvalidDocument, s.StepID, err)
		}
		if !registry.ValidKind(s.Kind) {
			return fmt.Errorf("%w: step %s: kind %q", ErrInvalidDocument, s.StepID, s.Kind)
		}
		if seen[s.StepID] {
			return fmt.Errorf("%w: duplicate step_id %q", ErrInvalidDocument, s.StepID)
		}
		seen[s.StepID] = true
	}
	return nil
}

// EnabledSteps returns the steps marked enabled, in document order.
func (wo *WorkOrder) EnabledSteps() []Step {
	out := make([]Step, 0, len(wo.Steps))
	for _, s := range wo.Steps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Step returns the step with the given ID, if present.
func (wo *WorkOrder) Step(stepID string) (Step, bool) {
	for _, s := range wo.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return Step{}, false
}

// HasEnabledKind reports whether any enabled step has the given kind.
func (wo *WorkOrder) HasEnabledKind(kind registry.Kind) bool {
	for _, s := range wo.Steps {
		if s.Enabled && s.Kind == kind {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for log context.
func (wo *WorkOrder) String() string {
	return strings.Join([]string{wo.TenantID, wo.WorkOrderID}, "/")
}
