package binder

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

type stubContracts map[string]registry.Contract

func (s stubContracts) GetContract(moduleID string) (registry.Contract, error) {
	c, ok := s[moduleID]
	if !ok {
		return registry.Contract{}, fmt.Errorf("%w: %s", registry.ErrUnknownModule, moduleID)
	}
	return c, nil
}

func testContracts() stubContracts {
	return stubContracts{
		"search": {
			ModuleID: "search",
			Ports: registry.Ports{
				TenantVisible: registry.PortSet{
					Inputs:  []string{"query", "limit"},
					Outputs: []string{"results"},
				},
				PlatformOnly: registry.PortSet{
					Inputs:  []string{"api_tier"},
					Outputs: []string{"raw_response"},
				},
				ForwardedOutputs: []string{"trace_ref"},
			},
		},
		"package_std": {
			ModuleID: "package_std",
			Ports: registry.Ports{
				TenantVisible: registry.PortSet{
					Inputs:  []string{"items", "title", "source"},
					Outputs: []string{"bundle"},
				},
			},
		},
	}
}

func step(id string, inputs map[string]any) workorder.Step {
	return workorder.Step{StepID: id, ModuleID: "package_std", Inputs: inputs, Enabled: true}
}

func TestResolveLiterals(t *testing.T) {
	b := New(testContracts(), "")
	params, err := b.Resolve(step("s2", map[string]any{
		"title": "weekly digest",
		"items": []any{"a", "b"},
	}), testContracts()["package_std"], nil)
	require.NoError(t, err)
	assert.Equal(t, "weekly digest", params["title"])
	assert.Equal(t, []any{"a", "b"}, params["items"])
}

func TestResolveFromStepSelector(t *testing.T) {
	b := New(testContracts(), "")
	prior := map[string]StepOutputs{
		"s1": {ModuleID: "search", Values: map[string]any{
			"results": map[string]any{
				"top": []any{"one", "two", "three"},
			},
		}},
	}
	params, err := b.Resolve(step("s2", map[string]any{
		"items": map[string]any{"from_step": "s1", "selector": "results.top", "take": 2},
	}), testContracts()["package_std"], prior)
	require.NoError(t, err)
	assert.Equal(t, []any{"one", "two"}, params["items"])
}

func TestResolveFromStepJSONPath(t *testing.T) {
	b := New(testContracts(), "")
	prior := map[string]StepOutputs{
		"s1": {ModuleID: "search", Values: map[string]any{
			"results": map[string]any{"count": 3.0},
		}},
	}
	params, err := b.Resolve(step("s2", map[string]any{
		"items": map[string]any{"from_step": "s1", "json_path": "$.results.count"},
	}), testContracts()["package_std"], prior)
	require.NoError(t, err)
	assert.Equal(t, 3.0, params["items"])
}

func TestPlatformOnlyInputRejected(t *testing.T) {
	b := New(testContracts(), "")
	_, err := b.Resolve(workorder.Step{StepID: "s1", ModuleID: "search", Inputs: map[string]any{
		"api_tier": "gold",
	}}, testContracts()["search"], nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinding)

	var be *BindingError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "api_tier", be.Input)
}

func TestUndeclaredInputRejected(t *testing.T) {
	b := New(testContracts(), "")
	_, err := b.Resolve(step("s2", map[string]any{"bogus": 1}), testContracts()["package_std"], nil)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestPlatformOutputNotReadable(t *testing.T) {
	b := New(testContracts(), "")
	prior := map[string]StepOutputs{
		"s1": {ModuleID: "search", Values: map[string]any{
			"raw_response": map[string]any{"body": "secret"},
		}},
	}
	_, err := b.Resolve(step("s2", map[string]any{
		"items": map[string]any{"from_step": "s1", "selector": "raw_response.body"},
	}), testContracts()["package_std"], prior)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestForwardedOutputReadable(t *testing.T) {
	b := New(testContracts(), "")
	prior := map[string]StepOutputs{
		"s1": {ModuleID: "search", Values: map[string]any{
			"trace_ref": "ref-123",
		}},
	}
	params, err := b.Resolve(step("s2", map[string]any{
		"source": map[string]any{"from_step": "s1", "selector": "trace_ref"},
	}), testContracts()["package_std"], prior)
	require.NoError(t, err)
	assert.Equal(t, "ref-123", params["source"])
}

func TestUnknownFromStep(t *testing.T) {
	b := New(testContracts(), "")
	_, err := b.Resolve(step("s2", map[string]any{
		"items": map[string]any{"from_step": "sX", "selector": "results"},
	}), testContracts()["package_std"], nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinding)
	assert.Contains(t, err.Error(), "sX")
}

func TestFailedSelectorEvaluation(t *testing.T) {
	b := New(testContracts(), "")
	prior := map[string]StepOutputs{
		"s1": {ModuleID: "search", Values: map[string]any{"results": map[string]any{}}},
	}
	_, err := b.Resolve(step("s2", map[string]any{
		"items": map[string]any{"from_step": "s1", "selector": "results.missing"},
	}), testContracts()["package_std"], prior)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestFixtureResolvesToFileURI(t *testing.T) {
	root := t.TempDir()
	b := New(testContracts(), root)
	params, err := b.Resolve(step("s2", map[string]any{
		"source": map[string]any{"fixture": "inputs/sample.json"},
	}), testContracts()["package_std"], nil)
	require.NoError(t, err)

	uri, ok := params["source"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "inputs/sample.json"))
}

func TestFixtureEscapeRejected(t *testing.T) {
	b := New(testContracts(), filepath.Join(t.TempDir(), "fixtures"))
	_, err := b.Resolve(step("s2", map[string]any{
		"source": map[string]any{"fixture": "../../etc/passwd"},
	}), testContracts()["package_std"], nil)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestFixtureDisabledWithoutRoot(t *testing.T) {
	b := New(testContracts(), "")
	_, err := b.Resolve(step("s2", map[string]any{
		"source": map[string]any{"fixture": "inputs/sample.json"},
	}), testContracts()["package_std"], nil)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestInjectPlatformWins(t *testing.T) {
	params := map[string]any{"format": "tenant-choice", "title": "keep"}
	merged := InjectPlatform(params, []registry.Deliverable{
		{ID: "bundle_small", LimitedInputs: map[string]any{"format": "zip", "max_items": 5}},
	})
	assert.Equal(t, "zip", merged["format"])
	assert.Equal(t, 5, merged["max_items"])
	assert.Equal(t, "keep", merged["title"])
	assert.Equal(t, "tenant-choice", params["format"], "input map untouched")
}
