package stagegraph

import (
	"fmt"

	"github.com/pydpiper-go/pydpiperd/internal/fingerprint"
	"github.com/pydpiper-go/pydpiperd/internal/hooks"
)

// MaxRetries is the number of times a failed stage is re-run before it is
// declared permanently FAILED. A stage's third attempt (RetryCount == 2
// going into it) is its last.
const MaxRetries = 2

// MemoryEstimate is a stage's memory footprint: either a fixed value known
// at build time, or a hook evaluated no earlier than the stage's first
// dispatch attempt, whose result is cached on the stage.
type MemoryEstimate struct {
	// GB is used directly when Hook.Kind() is not hooks.RecomputeMemory.
	GB float64
	// Hook, when of kind RecomputeMemory, is evaluated at dispatch
	// attempts until it first succeeds; that result is cached into GB.
	Hook *hooks.Hook
}

// Stage is one external-command execution: the atomic unit the scheduler
// dispatches. Stages are constructed once during graph build and never
// mutated structurally afterward; only Status and RetryCount change.
type Stage struct {
	ID      string
	Command []string
	Inputs  []string
	Outputs []string

	// Params carries semantics-affecting overrides (e.g. "memory",
	// "gradient") that must be inputs to the fingerprint hash even
	// though they are not part of Command.
	Params map[string]string

	Memory MemoryEstimate

	// Cores is the number of executor cores this stage occupies while
	// running. Zero means "unspecified", treated as 1 by the scheduler's
	// fit check (see internal/scheduler.stageCores).
	Cores int

	CompletionHook *hooks.Hook

	Status       Status
	FailureCause FailureCause
	RetryCount   int

	memoryResolved bool
}

// NewStage constructs a stage in NOT_STARTED status with retry count 0.
func NewStage(id string, command []string) *Stage {
	return &Stage{
		ID:      id,
		Command: command,
		Status:  NotStarted,
	}
}

// Fingerprint returns the stable identity hash of this stage's semantics,
// used to look the stage up in the completion log across restarts.
func (s *Stage) Fingerprint() string {
	return fingerprint.Compute(fingerprint.Spec{
		Command:    s.Command,
		InputPaths: s.Inputs,
		Params:     s.Params,
	})
}

// ResolveMemory returns the stage's memory estimate in GB. If Memory.Hook
// is a RecomputeMemory hook, it is invoked on each call until it first
// succeeds; that result is cached and returned by every later call. A
// failed invocation caches nothing, so the next call invokes it again.
func (s *Stage) ResolveMemory() (float64, error) {
	if s.memoryResolved || s.Memory.Hook == nil || s.Memory.Hook.Kind() != hooks.RecomputeMemory {
		return s.Memory.GB, nil
	}
	gb, err := s.Memory.Hook.RecomputeMemory()
	if err != nil {
		return 0, fmt.Errorf("stage %s: recompute memory: %w", s.ID, err)
	}
	s.Memory.GB = gb
	s.memoryResolved = true
	return gb, nil
}

// String renders the stage's command line for logs.
func (s *Stage) String() string {
	out := s.ID + ": "
	for i, a := range s.Command {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
