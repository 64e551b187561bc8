package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FromSpec maps a contract's self_test declaration to a built-in module.
// Recognized forms:
//
//	static              fixed file plus fixed outputs
//	echo                reflects resolved params as outputs
//	fail:<slug>         FAILED with the slug, refund eligible
//	sleep:<duration>    completes after the delay
func FromSpec(spec string) (Module, bool) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "static":
		return Static{
			Files:   map[string]string{"selftest.txt": "ok\n"},
			Outputs: map[string]any{"selftest": "ok"},
		}, true
	case spec == "echo":
		return EchoParams{}, true
	case strings.HasPrefix(spec, "fail:"):
		return Failing{Slug: strings.TrimPrefix(spec, "fail:"), RefundEligible: true}, true
	case strings.HasPrefix(spec, "sleep:"):
		d, err := time.ParseDuration(strings.TrimPrefix(spec, "sleep:"))
		if err != nil {
			return nil, false
		}
		return Sleeper{Delay: d}, true
	}
	return nil, false
}

// Static is a self-test module that writes fixed files and reports fixed
// outputs. It stands in for acquisition and packaging modules in seed
// scenarios and `selftest` runs.
type Static struct {
	Files     map[string]string // relative path → content
	Outputs   map[string]any
	OutputRef string
}

func (s Static) Invoke(_ context.Context, _ map[string]any, outputsDir string) (Result, error) {
	for rel, content := range s.Files {
		p := filepath.Join(outputsDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return Result{}, fmt.Errorf("selftest module: mkdir: %w", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return Result{}, fmt.Errorf("selftest module: write %s: %w", rel, err)
		}
	}
	ref := s.OutputRef
	if ref != "" && !filepath.IsAbs(ref) {
		// A relative ref names one of the written files.
		ref = filepath.Join(outputsDir, filepath.FromSlash(ref))
	}
	return Result{
		Status:    StatusCompleted,
		Outputs:   s.Outputs,
		OutputRef: ref,
	}, nil
}

// Failing is a self-test module that always reports FAILED with a fixed
// classification.
type Failing struct {
	Slug           string
	RefundEligible bool
}

func (f Failing) Invoke(_ context.Context, _ map[string]any, _ string) (Result, error) {
	return Result{
		Status:         StatusFailed,
		ReasonSlug:     f.Slug,
		RefundEligible: f.RefundEligible,
	}, nil
}

// EchoParams is a self-test module that reflects its resolved params back
// as outputs, which makes binding and platform injection observable from
// the outside.
type EchoParams struct{}

func (EchoParams) Invoke(_ context.Context, params map[string]any, _ string) (Result, error) {
	outputs := make(map[string]any, len(params))
	for k, v := range params {
		outputs[k] = v
	}
	return Result{Status: StatusCompleted, Outputs: map[string]any{"params": outputs}}, nil
}
