package modules

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform-sub001/pkg/reason"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
)

func shortTimeouts() Timeouts {
	return Timeouts{
		registry.KindAcquisition: 50 * time.Millisecond,
		registry.KindTransform:   50 * time.Millisecond,
	}
}

func TestTableRegisterAndGet(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register("search", Static{}))

	_, ok := tbl.Get("search")
	assert.True(t, ok)
	_, ok = tbl.Get("absent")
	assert.False(t, ok)
}

func TestTableMatchesDigitIDsWithLeadingZeros(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register("007", Static{}))
	_, ok := tbl.Get("7")
	assert.True(t, ok)
}

func TestTableLaterRegistrationShadows(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register("m", Failing{Slug: "a"}))
	require.NoError(t, tbl.Register("m", Failing{Slug: "b"}))
	m, ok := tbl.Get("m")
	require.True(t, ok)
	res, err := m.Invoke(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "b", res.ReasonSlug)
}

func TestRunCompletedWritesOutputsFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s1")
	m := Static{
		Files:   map[string]string{"results.json": `{"n":1}`},
		Outputs: map[string]any{"results": map[string]any{"n": 1}},
	}
	res := Run(context.Background(), m, registry.KindAcquisition, shortTimeouts(), nil, dir)
	require.Equal(t, StatusCompleted, res.Status)

	raw, err := os.ReadFile(filepath.Join(dir, OutputsFile))
	require.NoError(t, err)
	var outputs map[string]any
	require.NoError(t, json.Unmarshal(raw, &outputs))
	assert.Contains(t, outputs, "results")

	_, err = os.Stat(filepath.Join(dir, "results.json"))
	assert.NoError(t, err)
}

func TestRunTimeout(t *testing.T) {
	res := Run(context.Background(), Sleeper{Delay: time.Second},
		registry.KindTransform, shortTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, reason.SlugTimeout, res.ReasonSlug)
	assert.True(t, res.RefundEligible)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := Run(ctx, Sleeper{Delay: time.Second},
		registry.KindDelivery, DefaultTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, reason.SlugCancelled, res.ReasonSlug)
	assert.True(t, res.RefundEligible)
}

func TestRunModuleErrorMapped(t *testing.T) {
	m := Func(func(context.Context, map[string]any, string) (Result, error) {
		return Result{}, errors.New("upstream exploded")
	})
	res := Run(context.Background(), m, registry.KindAcquisition, shortTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "module_error", res.ReasonSlug)
	assert.True(t, res.RefundEligible)
	assert.Equal(t, "upstream exploded", res.Metadata["error"])
}

func TestRunFailedResultPassesThrough(t *testing.T) {
	m := Failing{Slug: "quota_exhausted", RefundEligible: false}
	res := Run(context.Background(), m, registry.KindDelivery, DefaultTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "quota_exhausted", res.ReasonSlug)
	assert.False(t, res.RefundEligible)
}

func TestEchoParamsReflectsInjection(t *testing.T) {
	res := Run(context.Background(), EchoParams{}, registry.KindTransform, shortTimeouts(),
		map[string]any{"format": "zip"}, filepath.Join(t.TempDir(), "s1"))
	require.Equal(t, StatusCompleted, res.Status)
	params, ok := res.Outputs["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "zip", params["format"])
}

func TestTimeoutsFor(t *testing.T) {
	assert.Equal(t, 300*time.Second, DefaultTimeouts().For(registry.KindPackaging))
	assert.Equal(t, 60*time.Second, Timeouts{}.For(registry.Kind("bogus")))
}

func TestFromSpec(t *testing.T) {
	m, ok := FromSpec("static")
	require.True(t, ok)
	res := Run(context.Background(), m, registry.KindAcquisition, DefaultTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusCompleted, res.Status)

	m, ok = FromSpec("fail:upstream_down")
	require.True(t, ok)
	res = Run(context.Background(), m, registry.KindTransform, DefaultTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "upstream_down", res.ReasonSlug)

	m, ok = FromSpec("sleep:5ms")
	require.True(t, ok)
	res = Run(context.Background(), m, registry.KindDelivery, DefaultTimeouts(), nil, t.TempDir())
	assert.Equal(t, StatusCompleted, res.Status)

	_, ok = FromSpec("sleep:not-a-duration")
	assert.False(t, ok)
	_, ok = FromSpec("")
	assert.False(t, ok)
}
