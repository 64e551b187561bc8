// Package status reduces per-step outcomes to the workorder's terminal
// status. The reduction is a pure, total function used both at the end of a
// run and when reloading a run for audit.
package status

import (
	"github.com/agenda-podcast/Platform-sub001/pkg/runstate"
)

// Reduce maps executed step statuses plus the publish flags to a terminal
// workorder status. refundsExist is carried for audit symmetry: a reloaded
// run reduces identically whether or not refunds were inspected.
//
// Rules, in order:
//  1. every executed step COMPLETED and publish required but not done →
//     AWAITING_PUBLISH
//  2. every step COMPLETED → COMPLETED
//  3. every step FAILED → FAILED
//  4. otherwise → PARTIAL
//
// No executed steps reduces to FAILED: a workorder that never ran a step
// delivered nothing.
func Reduce(stepStatuses []runstate.Status, refundsExist, publishRequired, publishCompleted bool) runstate.Status {
	_ = refundsExist

	if len(stepStatuses) == 0 {
		return runstate.StatusFailed
	}

	allCompleted := true
	allFailed := true
	for _, s := range stepStatuses {
		if s != runstate.StatusCompleted {
			allCompleted = false
		}
		if s != runstate.StatusFailed {
			allFailed = false
		}
	}

	switch {
	case allCompleted && publishRequired && !publishCompleted:
		return runstate.StatusAwaitingPublish
	case allCompleted:
		return runstate.StatusCompleted
	case allFailed:
		return runstate.StatusFailed
	default:
		return runstate.StatusPartial
	}
}
