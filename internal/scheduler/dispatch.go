package scheduler

import (
	"sort"

	"github.com/pydpiper-go/pydpiperd/internal/stagegraph"
)

// DispatchStrategy orders the runnable frontier before the scheduler scans
// it for a stage that fits an executor's free resources. §9's Open
// Question on iteration order is left configurable rather than guessed:
// the reference behavior (InsertionOrder) is the default, and
// SmallestFirst is provided as the alternative the spec calls out as
// plausibly reducing fragmentation, without making it the default absent
// evidence either way.
type DispatchStrategy int

const (
	// InsertionOrder scans the runnable frontier in the order stages
	// became runnable. This is the reference policy.
	InsertionOrder DispatchStrategy = iota
	// SmallestFirst scans smallest-memory-estimate stages first, which
	// may pack executors more tightly under fragmentation.
	SmallestFirst
)

// order returns stages from the runnable frontier arranged per strategy.
// Stages with a deferred (hook-based) memory estimate sort using their
// last-known GB value (0 until first resolved); this is a heuristic only
// used for ordering, never for the fit check itself, which always
// resolves the estimate before deciding.
func order(strategy DispatchStrategy, stages []*stagegraph.Stage) []*stagegraph.Stage {
	if strategy != SmallestFirst {
		return stages
	}
	out := append([]*stagegraph.Stage(nil), stages...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Memory.GB < out[j].Memory.GB
	})
	return out
}
