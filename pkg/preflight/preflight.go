// Package preflight gates workorder execution: schema shape, contract kind
// agreement, required secrets, and packaging/delivery activation pairing.
// The gate never raises for a billing decision; it returns an Outcome the
// executor dispatches on, so a blocked workorder still produces its audit
// trail.
package preflight

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/secrets"
	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

// Decision is the gate's verdict.
type Decision string

const (
	// DecisionPass clears the workorder for pricing and execution.
	DecisionPass Decision = "PASS"
	// DecisionSecretsMissing blocks execution; the executor records a
	// zero-amount audit SPEND with the secrets_missing reason.
	DecisionSecretsMissing Decision = "SECRETS_MISSING"
	// DecisionValidationFailed blocks execution before any SPEND.
	DecisionValidationFailed Decision = "VALIDATION_FAILED"
)

// Outcome is the full gate result. Warnings never block.
type Outcome struct {
	Decision       Decision
	MissingSecrets []string
	Problems       []string
	Warnings       []string
}

// Blocked reports whether the workorder may not execute.
func (o Outcome) Blocked() bool { return o.Decision != DecisionPass }

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["work_order_id", "tenant_id", "mode", "steps"],
  "properties": {
    "work_order_id": {"type": "string", "minLength": 1},
    "tenant_id": {"type": "string", "minLength": 1},
    "enabled": {"type": "boolean"},
    "mode": {"enum": ["ALL_OR_NOTHING", "PARTIAL_ALLOWED"]},
    "artifacts_requested": {"type": "boolean"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["step_id", "module_id", "kind"],
        "properties": {
          "step_id": {"type": "string", "minLength": 1},
          "module_id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["acquisition", "transform", "packaging", "delivery"]},
          "inputs": {"type": "object"},
          "requested_deliverables": {"type": "array", "items": {"type": "string"}},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("workorder.schema.json", documentSchema)

// Gate runs the preflight checks.
type Gate struct {
	contracts contractSource
	secrets   secrets.Store
}

type contractSource interface {
	GetContract(moduleID string) (registry.Contract, error)
}

// New creates a Gate bound to a contract source and a secret store.
func New(contracts contractSource, store secrets.Store) *Gate {
	return &Gate{contracts: contracts, secrets: store}
}

// Check evaluates all gates against the workorder. Validation problems are
// collected, not short-circuited, so the operator sees the full list at
// once. Secret checks run only when the document itself is sound.
func (g *Gate) Check(wo *workorder.WorkOrder) Outcome {
	out := Outcome{Decision: DecisionPass}

	g.checkSchema(wo, &out)
	g.checkKinds(wo, &out)
	g.checkActivation(wo, &out)
	if len(out.Problems) > 0 {
		out.Decision = DecisionValidationFailed
		return out
	}

	g.checkSecrets(wo, &out)
	if len(out.MissingSecrets) > 0 {
		out.Decision = DecisionSecretsMissing
	}
	return out
}

func (g *Gate) checkSchema(wo *workorder.WorkOrder, out *Outcome) {
	raw, err := json.Marshal(wo)
	if err != nil {
		out.Problems = append(out.Problems, fmt.Sprintf("document: %v", err))
		return
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		out.Problems = append(out.Problems, fmt.Sprintf("document: %v", err))
		return
	}
	if err := compiledSchema.Validate(doc); err != nil {
		out.Problems = append(out.Problems, fmt.Sprintf("schema: %v", err))
	}
}

// checkKinds requires each step's declared kind to match the module's
// compiled kind. A mismatch means the document was written against a stale
// catalog.
func (g *Gate) checkKinds(wo *workorder.WorkOrder, out *Outcome) {
	for _, s := range wo.Steps {
		c, err := g.contracts.GetContract(s.ModuleID)
		if err != nil {
			out.Problems = append(out.Problems, fmt.Sprintf("step %s: %v", s.StepID, err))
			continue
		}
		if c.Kind != s.Kind {
			out.Problems = append(out.Problems,
				fmt.Sprintf("step %s: kind %q does not match module %s kind %q",
					s.StepID, s.Kind, s.ModuleID, c.Kind))
		}
	}
}

// checkActivation enforces the packaging/delivery pairing: packaged output
// with no way to deliver it is wasted spend. Disabled offenders warn only.
func (g *Gate) checkActivation(wo *workorder.WorkOrder, out *Outcome) {
	report := func(enabled bool, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if enabled {
			out.Problems = append(out.Problems, msg)
		} else {
			out.Warnings = append(out.Warnings, msg)
		}
	}

	for i, s := range wo.Steps {
		if s.Kind != registry.KindPackaging {
			continue
		}
		deliveryAfter := false
		for _, later := range wo.Steps[i+1:] {
			if later.Kind == registry.KindDelivery && later.Enabled {
				deliveryAfter = true
				break
			}
		}
		if !deliveryAfter {
			report(s.Enabled, "step %s: packaging without a later enabled delivery step", s.StepID)
		}
	}

	if wo.ArtifactsRequested {
		if !wo.HasEnabledKind(registry.KindPackaging) {
			report(wo.Enabled, "artifacts_requested without an enabled packaging step")
		}
		if !wo.HasEnabledKind(registry.KindDelivery) {
			report(wo.Enabled, "artifacts_requested without an enabled delivery step")
		}
	}
}

func (g *Gate) checkSecrets(wo *workorder.WorkOrder, out *Outcome) {
	missing := map[string]bool{}
	for _, s := range wo.EnabledSteps() {
		c, err := g.contracts.GetContract(s.ModuleID)
		if err != nil {
			// Caught by checkKinds already; do not double-report.
			continue
		}
		for _, key := range c.Requirements.Secrets {
			if !secrets.Resolved(g.secrets, key) {
				missing[key] = true
			}
		}
	}
	for key := range missing {
		out.MissingSecrets = append(out.MissingSecrets, key)
	}
	sort.Strings(out.MissingSecrets)
}

// Summary renders the outcome as one log line.
func (o Outcome) Summary() string {
	parts := []string{string(o.Decision)}
	if len(o.MissingSecrets) > 0 {
		parts = append(parts, "missing_secrets="+strings.Join(o.MissingSecrets, ","))
	}
	if len(o.Problems) > 0 {
		parts = append(parts, fmt.Sprintf("problems=%d", len(o.Problems)))
	}
	if len(o.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("warnings=%d", len(o.Warnings)))
	}
	return strings.Join(parts, " ")
}
