// Package hooks defines the closed set of actions a stage may request the
// scheduler perform at two points in its lifecycle: just before dispatch
// (runnable-time) and just after a successful run (completion-time).
//
// The original implementation this system was distilled from allowed
// arbitrary in-process callables here. That is deliberately not carried
// forward: hooks are a small sum type the scheduler itself interprets, so a
// stage definition can never inject arbitrary code into the scheduler's
// critical section.
package hooks

import "fmt"

// Kind identifies which action a Hook performs.
type Kind int

const (
	// RecomputeMemory re-evaluates a stage's memory estimate from the
	// size of its input files just before it is offered to an executor.
	RecomputeMemory Kind = iota
	// EmitVerificationImage runs after a stage finishes and registers a
	// derived artifact (e.g. a QC image) for downstream inspection.
	EmitVerificationImage
	// RegisterFollowupStage adds one or more additional stages to the
	// graph once their inputs (this stage's outputs) are known to exist.
	RegisterFollowupStage
)

func (k Kind) String() string {
	switch k {
	case RecomputeMemory:
		return "recompute-memory"
	case EmitVerificationImage:
		return "emit-verification-image"
	case RegisterFollowupStage:
		return "register-followup-stage"
	default:
		return "unknown"
	}
}

// MemoryEstimator computes a stage's memory footprint in GB by inspecting
// whatever on-disk state is relevant (typically its input files' sizes).
// It is called at most once per dispatch attempt; the scheduler caches the
// result on the stage.
type MemoryEstimator func() (float64, error)

// VerificationEmitter produces the path of an artifact to register as
// evidence the stage's output was sane (e.g. a rendered QC slice).
type VerificationEmitter func() (path string, err error)

// FollowupRegistrar returns descriptors for stages to add to the graph
// after this stage completes. The scheduler is responsible for turning
// these into real stage-graph nodes; this package only carries the
// intent.
type FollowupRegistrar func() ([]FollowupStage, error)

// FollowupStage is the minimal information needed to add a new stage to
// the graph from within a completion hook.
type FollowupStage struct {
	ID      string
	Command []string
	Inputs  []string
	Outputs []string
	MemGB   float64
}

// Hook is an opaque, pre-vetted action. Exactly one of the function fields
// matching Kind is set; construct one with NewRecomputeMemory,
// NewEmitVerificationImage, or NewRegisterFollowupStage rather than
// building the struct directly.
type Hook struct {
	kind       Kind
	estimator  MemoryEstimator
	emitter    VerificationEmitter
	registrar  FollowupRegistrar
}

// Kind reports which action this hook performs.
func (h Hook) Kind() Kind { return h.kind }

// NewRecomputeMemory builds a runnable-time hook that recomputes memory.
func NewRecomputeMemory(fn MemoryEstimator) Hook {
	return Hook{kind: RecomputeMemory, estimator: fn}
}

// NewEmitVerificationImage builds a completion-time hook that emits an
// artifact path.
func NewEmitVerificationImage(fn VerificationEmitter) Hook {
	return Hook{kind: EmitVerificationImage, emitter: fn}
}

// NewRegisterFollowupStage builds a completion-time hook that proposes
// follow-up stages.
func NewRegisterFollowupStage(fn FollowupRegistrar) Hook {
	return Hook{kind: RegisterFollowupStage, registrar: fn}
}

// RecomputeMemory invokes the wrapped estimator. It returns an error
// without invoking anything if the hook is not of RecomputeMemory kind.
func (h Hook) RecomputeMemory() (float64, error) {
	if h.kind != RecomputeMemory || h.estimator == nil {
		return 0, fmt.Errorf("hooks: not a recompute-memory hook")
	}
	return h.estimator()
}

// EmitVerificationImage invokes the wrapped emitter.
func (h Hook) EmitVerificationImage() (string, error) {
	if h.kind != EmitVerificationImage || h.emitter == nil {
		return "", fmt.Errorf("hooks: not an emit-verification-image hook")
	}
	return h.emitter()
}

// RegisterFollowupStage invokes the wrapped registrar.
func (h Hook) RegisterFollowupStage() ([]FollowupStage, error) {
	if h.kind != RegisterFollowupStage || h.registrar == nil {
		return nil, fmt.Errorf("hooks: not a register-followup-stage hook")
	}
	return h.registrar()
}
