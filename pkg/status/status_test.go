package status

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/agenda-podcast/Platform-sub001/pkg/runstate"
)

func TestReduceRules(t *testing.T) {
	completed := runstate.StatusCompleted
	failed := runstate.StatusFailed

	cases := []struct {
		name             string
		statuses         []runstate.Status
		publishRequired  bool
		publishCompleted bool
		want             runstate.Status
	}{
		{"all completed", []runstate.Status{completed, completed}, false, false, runstate.StatusCompleted},
		{"all completed awaiting publish", []runstate.Status{completed}, true, false, runstate.StatusAwaitingPublish},
		{"all completed publish done", []runstate.Status{completed}, true, true, runstate.StatusCompleted},
		{"all failed", []runstate.Status{failed, failed}, false, false, runstate.StatusFailed},
		{"mixed", []runstate.Status{completed, failed}, false, false, runstate.StatusPartial},
		{"mixed awaiting publish ignored", []runstate.Status{completed, failed}, true, false, runstate.StatusPartial},
		{"no executed steps", nil, false, false, runstate.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Reduce(tc.statuses, false, tc.publishRequired, tc.publishCompleted)
			assert.Equal(t, tc.want, got)
			// refundsExist never changes the reduction.
			assert.Equal(t, got, Reduce(tc.statuses, true, tc.publishRequired, tc.publishCompleted))
		})
	}
}

// The reducer is total over its finite domain and independent of step order.
func TestReduceTotalAndOrderIndependent(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	genStatus := gen.OneConstOf(
		runstate.StatusCompleted, runstate.StatusFailed, runstate.StatusPartial,
		runstate.StatusRunning, runstate.StatusPending)
	genStatuses := gen.SliceOf(genStatus)

	terminal := map[runstate.Status]bool{
		runstate.StatusCompleted:       true,
		runstate.StatusFailed:          true,
		runstate.StatusPartial:         true,
		runstate.StatusAwaitingPublish: true,
		// StatusPending is never produced by Reduce; listed domains only.
	}

	properties.Property("always yields a terminal status", prop.ForAll(
		func(statuses []runstate.Status, refunds, required, done bool) bool {
			return terminal[Reduce(statuses, refunds, required, done)]
		}, genStatuses, gen.Bool(), gen.Bool(), gen.Bool()))

	properties.Property("order independent", prop.ForAll(
		func(statuses []runstate.Status, required, done bool) bool {
			reversed := make([]runstate.Status, len(statuses))
			for i, s := range statuses {
				reversed[len(statuses)-1-i] = s
			}
			return Reduce(statuses, false, required, done) ==
				Reduce(reversed, false, required, done)
		}, genStatuses, gen.Bool(), gen.Bool()))

	properties.TestingRun(t)
}
