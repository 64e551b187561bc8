// Package binder resolves step inputs from literals, prior step outputs,
// and self-test fixtures, enforcing port visibility on both ends. A binding
// failure never substitutes a value silently; it fails the step with a
// classified error and leaves sibling steps untouched.
package binder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

// ErrBinding is the classification target for all binding failures.
var ErrBinding = errors.New("binder: binding error")

// BindingError describes why one input of one step could not be resolved.
type BindingError struct {
	StepID string
	Input  string
	Reason string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("binder: step %s input %q: %s", e.StepID, e.Input, e.Reason)
}

// Is lets errors.Is(err, ErrBinding) classify any BindingError.
func (e *BindingError) Is(target error) bool { return target == ErrBinding }

func bindErr(stepID, input, format string, args ...any) error {
	return &BindingError{StepID: stepID, Input: input, Reason: fmt.Sprintf(format, args...)}
}

// StepOutputs carries the declared output port values a completed step
// produced, together with the module that produced them.
type StepOutputs struct {
	ModuleID string
	Values   map[string]any
}

// Binder resolves inputs against module contracts.
type Binder struct {
	contracts    contractSource
	fixturesRoot string
}

type contractSource interface {
	GetContract(moduleID string) (registry.Contract, error)
}

// New creates a Binder. fixturesRoot anchors `fixture:` references; empty
// disables fixtures (production runs).
func New(contracts contractSource, fixturesRoot string) *Binder {
	return &Binder{contracts: contracts, fixturesRoot: fixturesRoot}
}

// Resolve produces the parameter map for one step. prior maps step IDs of
// already-executed steps to their outputs. Tenant-supplied keys must be
// tenant-visible inputs of the module; platform-only values are injected
// afterwards by the executor via InjectPlatform.
func (b *Binder) Resolve(step workorder.Step, contract registry.Contract, prior map[string]StepOutputs) (map[string]any, error) {
	params := make(map[string]any, len(step.Inputs))
	for name, raw := range step.Inputs {
		if !contract.HasTenantInput(name) {
			if contract.HasPlatformInput(name) {
				return nil, bindErr(step.StepID, name, "input is platform-only")
			}
			return nil, bindErr(step.StepID, name, "input not declared by module %s", contract.ModuleID)
		}
		value, err := b.resolveValue(step.StepID, name, raw, prior)
		if err != nil {
			return nil, err
		}
		params[name] = value
	}
	return params, nil
}

// InjectPlatform overlays deliverable limited_inputs onto resolved params.
// The platform value wins when both sides specify the same key.
func InjectPlatform(params map[string]any, deliverables []registry.Deliverable) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, d := range deliverables {
		for k, v := range d.LimitedInputs {
			out[k] = v
		}
	}
	return out
}

func (b *Binder) resolveValue(stepID, name string, raw any, prior map[string]StepOutputs) (any, error) {
	ref, ok := raw.(map[string]any)
	if !ok {
		return raw, nil // literal
	}
	if fixture, ok := ref["fixture"]; ok {
		return b.resolveFixture(stepID, name, fixture)
	}
	if _, ok := ref["from_step"]; ok {
		return b.resolveFromStep(stepID, name, ref, prior)
	}
	return raw, nil // literal map
}

func (b *Binder) resolveFixture(stepID, name string, fixture any) (any, error) {
	rel, ok := fixture.(string)
	if !ok || rel == "" {
		return nil, bindErr(stepID, name, "fixture path must be a non-empty string")
	}
	if b.fixturesRoot == "" {
		return nil, bindErr(stepID, name, "fixtures are not enabled for this run")
	}
	joined := filepath.Join(b.fixturesRoot, rel)
	root := filepath.Clean(b.fixturesRoot)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return nil, bindErr(stepID, name, "fixture path %q escapes the fixtures root", rel)
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return nil, bindErr(stepID, name, "fixture path: %v", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (b *Binder) resolveFromStep(stepID, name string, ref map[string]any, prior map[string]StepOutputs) (any, error) {
	fromStep, _ := ref["from_step"].(string)
	if fromStep == "" {
		return nil, bindErr(stepID, name, "from_step must be a non-empty string")
	}
	outputs, ok := prior[fromStep]
	if !ok {
		return nil, bindErr(stepID, name, "from_step %q has no executed outputs", fromStep)
	}
	producer, err := b.contracts.GetContract(outputs.ModuleID)
	if err != nil {
		return nil, bindErr(stepID, name, "producing module %s: %v", outputs.ModuleID, err)
	}

	selector, _ := ref["selector"].(string)
	jsonPath, _ := ref["json_path"].(string)
	if selector == "" && jsonPath == "" {
		return nil, bindErr(stepID, name, "from_step reference needs a selector or json_path")
	}

	port := rootKey(selector, jsonPath)
	if port == "" {
		return nil, bindErr(stepID, name, "cannot determine output port from selector %q / json_path %q", selector, jsonPath)
	}
	if !producer.ReadableOutput(port) {
		return nil, bindErr(stepID, name, "output %q of module %s is not tenant-visible", port, outputs.ModuleID)
	}

	var value any
	switch {
	case selector != "":
		value, err = walkSelector(outputs.Values, selector)
		if err != nil {
			return nil, bindErr(stepID, name, "selector %q: %v", selector, err)
		}
	default:
		value, err = jsonpath.Get(jsonPath, any(outputs.Values))
		if err != nil {
			return nil, bindErr(stepID, name, "json_path %q: %v", jsonPath, err)
		}
	}

	if take := takeCount(ref["take"]); take > 0 {
		if list, ok := value.([]any); ok && len(list) > take {
			value = list[:take]
		}
	}
	return value, nil
}

// rootKey extracts the output port name a reference reads: the first
// segment of the selector path, or of the json_path after "$.".
func rootKey(selector, jsonPath string) string {
	if selector != "" {
		return strings.SplitN(selector, ".", 2)[0]
	}
	p := strings.TrimPrefix(jsonPath, "$")
	p = strings.TrimPrefix(p, ".")
	for i, r := range p {
		if r == '.' || r == '[' {
			return p[:i]
		}
	}
	return p
}

func walkSelector(value any, selector string) (any, error) {
	current := value
	for _, part := range strings.Split(selector, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index %q out of range", part)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T with %q", current, part)
		}
	}
	return current, nil
}

func takeCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
