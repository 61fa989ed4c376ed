// Package batchsubmit specifies the abstract contract a batch-cluster
// submission substrate must satisfy so the scheduler can auto-launch
// executors on SGE or PBS/Torque. It deliberately does not implement
// site-specific submission scripts (out of scope per spec.md §1); the
// two concrete Submitters here are thin, generic qsub wrappers meant as
// a reference, not a production job script.
package batchsubmit

import (
	"context"
	"fmt"
)

// JobID is an opaque batch-system job identifier (e.g. an SGE job number).
type JobID string

// Request describes one executor to submit.
type Request struct {
	// Name is a human-readable job name, typically pipeline-name-prefixed.
	Name string
	// Command is the executor invocation (pydpiperd executor ...).
	Command []string
	// MemoryGB is the memory request, derived by the caller from the
	// largest currently-runnable stage's estimate.
	MemoryGB float64
	// MemRequestVariable is the batch-system resource variable name
	// used for the memory request (default "mem"; e.g. "vmem" on some
	// SGE sites).
	MemRequestVariable string
	// ParallelEnvironment is the SGE "-pe" name, empty to omit it.
	ParallelEnvironment string
	// Cores is the executor's declared core count.
	Cores int
	// LogDir is where the batch system should write the job's own
	// stdout/stderr (distinct from the executor's own per-stage logs).
	LogDir string
}

// Submitter abstracts a batch-cluster job submission system.
type Submitter interface {
	Submit(ctx context.Context, req Request) (JobID, error)
	// Cancel kills a previously submitted job, used when the scheduler
	// declares an executor DEAD before it ever registered.
	Cancel(ctx context.Context, id JobID) error
}

// ErrUnsatisfiable is returned by callers computing a Request (not by a
// Submitter itself) when a runnable stage's memory exceeds the
// per-executor maximum the batch substrate can grant, per spec.md
// §4.5's "fail fatally rather than submit an unsatisfiable job" rule.
var ErrUnsatisfiable = fmt.Errorf("batchsubmit: stage memory exceeds per-executor maximum")
