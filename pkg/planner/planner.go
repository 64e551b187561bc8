// Package planner orders workorder steps topologically subject to the
// dependency edges declared by their module contracts. The dependency graph
// is restricted to the requested modules; edges pointing outside the
// workorder are missing dependencies, not silent no-ops.
package planner

import (
	"errors"
	"fmt"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

var (
	// ErrCycle is returned when module dependencies form a cycle.
	ErrCycle = errors.New("planner: dependency cycle")
	// ErrMissingDep is returned when a step's module depends on a module
	// absent from the workorder.
	ErrMissingDep = errors.New("planner: missing dependency")
)

// Plan is the executable ordering of one workorder's enabled steps.
type Plan struct {
	Steps []workorder.Step
	// Type labels the plan family for spend-key derivation; all full
	// workorder executions share PlanTypeFull.
	Type string
}

// PlanTypeFull is the plan type for a complete workorder execution.
const PlanTypeFull = "FULL"

// Contracts resolves a module ID to its contract; satisfied by
// *registry.Registry.
type Contracts interface {
	GetContract(moduleID string) (registry.Contract, error)
}

// DFS colors.
const (
	white = iota // unvisited
	gray         // on the current path
	black        // done
)

// Build produces the plan for the enabled steps of a workorder. Ordering is
// a DFS-based topological sort; ties are broken by document order, so the
// same workorder always yields the same plan.
func Build(wo *workorder.WorkOrder, contracts Contracts) (*Plan, error) {
	steps := wo.EnabledSteps()

	// Module match-form → first step index using it. depends_on edges are
	// module-level; a later duplicate of the same module rides on the first.
	byModule := make(map[string]int, len(steps))
	keys := make([]string, len(steps))
	for i, s := range steps {
		key, err := ident.CanonicalForMatch(s.ModuleID)
		if err != nil {
			return nil, fmt.Errorf("planner: step %s: %w", s.StepID, err)
		}
		keys[i] = key
		if _, dup := byModule[key]; !dup {
			byModule[key] = i
		}
	}

	deps := make([][]int, len(steps))
	for i, s := range steps {
		c, err := contracts.GetContract(s.ModuleID)
		if err != nil {
			return nil, err
		}
		for _, depModule := range c.DependsOn {
			depKey, err := ident.CanonicalForMatch(depModule)
			if err != nil {
				return nil, fmt.Errorf("planner: module %s depends_on: %w", s.ModuleID, err)
			}
			j, ok := byModule[depKey]
			if !ok {
				return nil, fmt.Errorf("%w: step %s (module %s) requires module %s",
					ErrMissingDep, s.StepID, s.ModuleID, depModule)
			}
			deps[i] = append(deps[i], j)
		}
	}

	color := make([]int, len(steps))
	order := make([]int, 0, len(steps))

	var visit func(i int) error
	visit = func(i int) error {
		switch color[i] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("%w: via step %s", ErrCycle, steps[i].StepID)
		}
		color[i] = gray
		for _, j := range deps[i] {
			if err := visit(j); err != nil {
				return err
			}
		}
		color[i] = black
		order = append(order, i)
		return nil
	}

	// Roots in document order keep the sort stable.
	for i := range steps {
		if err := visit(i); err != nil {
			return nil, err
		}
	}

	plan := &Plan{Type: PlanTypeFull, Steps: make([]workorder.Step, len(order))}
	for i, idx := range order {
		plan.Steps[i] = steps[idx]
	}
	return plan, nil
}
