package preflight

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/secrets"
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
			ModuleID: "search", Kind: registry.KindAcquisition,
			Requirements: registry.Requirements{Secrets: []string{"SEARCH_API_KEY"}},
		},
		"package_std": {ModuleID: "package_std", Kind: registry.KindPackaging},
		"deliver_s3":  {ModuleID: "deliver_s3", Kind: registry.KindDelivery},
	}
}

func baseWorkOrder() *workorder.WorkOrder {
	return &workorder.WorkOrder{
		WorkOrderID: "wo1", TenantID: "t1", Enabled: true,
		Mode: workorder.ModeAllOrNothing,
		Steps: []workorder.Step{
			{StepID: "s1", ModuleID: "search", Kind: registry.KindAcquisition, Enabled: true},
		},
	}
}

func TestCheckPasses(t *testing.T) {
	g := New(testContracts(), secrets.MapStore{"SEARCH_API_KEY": "k-123"})
	out := g.Check(baseWorkOrder())
	assert.Equal(t, DecisionPass, out.Decision)
	assert.False(t, out.Blocked())
	assert.Empty(t, out.Warnings)
}

func TestMissingSecretBlocks(t *testing.T) {
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(baseWorkOrder())
	assert.Equal(t, DecisionSecretsMissing, out.Decision)
	assert.Equal(t, []string{"SEARCH_API_KEY"}, out.MissingSecrets)
}

func TestPlaceholderSecretCountsAsMissing(t *testing.T) {
	g := New(testContracts(), secrets.MapStore{"SEARCH_API_KEY": "<your key here>"})
	out := g.Check(baseWorkOrder())
	assert.Equal(t, DecisionSecretsMissing, out.Decision)
}

func TestDisabledStepSecretsNotRequired(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps[0].Enabled = false
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(wo)
	assert.Equal(t, DecisionPass, out.Decision)
}

func TestKindMismatch(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps[0].Kind = registry.KindDelivery
	g := New(testContracts(), secrets.MapStore{"SEARCH_API_KEY": "k"})
	out := g.Check(wo)
	assert.Equal(t, DecisionValidationFailed, out.Decision)
	require.Len(t, out.Problems, 1)
	assert.Contains(t, out.Problems[0], "kind")
}

func TestUnknownModule(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps[0].ModuleID = "nope"
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(wo)
	assert.Equal(t, DecisionValidationFailed, out.Decision)
}

func TestPackagingWithoutDeliveryIsError(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps = []workorder.Step{
		{StepID: "s1", ModuleID: "package_std", Kind: registry.KindPackaging, Enabled: true},
	}
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(wo)
	assert.Equal(t, DecisionValidationFailed, out.Decision)
	assert.NotEmpty(t, out.Problems)
}

func TestDisabledPackagingWithoutDeliveryWarnsOnly(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps = append(wo.Steps, workorder.Step{
		StepID: "s2", ModuleID: "package_std", Kind: registry.KindPackaging, Enabled: false,
	})
	g := New(testContracts(), secrets.MapStore{"SEARCH_API_KEY": "k"})
	out := g.Check(wo)
	assert.Equal(t, DecisionPass, out.Decision)
	assert.NotEmpty(t, out.Warnings)
}

func TestPackagingFollowedByDeliveryPasses(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps = []workorder.Step{
		{StepID: "s1", ModuleID: "package_std", Kind: registry.KindPackaging, Enabled: true},
		{StepID: "s2", ModuleID: "deliver_s3", Kind: registry.KindDelivery, Enabled: true},
	}
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(wo)
	assert.Equal(t, DecisionPass, out.Decision)
}

func TestDeliveryBeforePackagingDoesNotCount(t *testing.T) {
	wo := baseWorkOrder()
	wo.Steps = []workorder.Step{
		{StepID: "s1", ModuleID: "deliver_s3", Kind: registry.KindDelivery, Enabled: true},
		{StepID: "s2", ModuleID: "package_std", Kind: registry.KindPackaging, Enabled: true},
	}
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(wo)
	assert.Equal(t, DecisionValidationFailed, out.Decision)
}

func TestArtifactsRequestedNeedsBothKinds(t *testing.T) {
	wo := baseWorkOrder()
	wo.ArtifactsRequested = true
	wo.Steps = []workorder.Step{
		{StepID: "s1", ModuleID: "package_std", Kind: registry.KindPackaging, Enabled: true},
	}
	g := New(testContracts(), secrets.MapStore{})
	out := g.Check(wo)
	assert.Equal(t, DecisionValidationFailed, out.Decision)
	// Packaging-without-delivery plus missing delivery kind.
	assert.GreaterOrEqual(t, len(out.Problems), 2)
}

func TestSchemaRejectsEmptyIdentifiers(t *testing.T) {
	wo := baseWorkOrder()
	wo.TenantID = ""
	g := New(testContracts(), secrets.MapStore{"SEARCH_API_KEY": "k"})
	out := g.Check(wo)
	assert.Equal(t, DecisionValidationFailed, out.Decision)
}

func TestSummary(t *testing.T) {
	out := Outcome{Decision: DecisionSecretsMissing, MissingSecrets: []string{"A", "B"}}
	assert.Equal(t, "SECRETS_MISSING missing_secrets=A,B", out.Summary())
}
