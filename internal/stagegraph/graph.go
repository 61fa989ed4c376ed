// Package stagegraph implements the in-memory DAG of stages: dependency
// edges, per-stage predecessor counters, and the incrementally maintained
// runnable frontier. It is component C1 of the scheduler.
//
// A Graph is not internally synchronized. It is owned exclusively by one
// scheduler core, which serializes all access through its own critical
// section (see internal/scheduler); adding a second lock here would only
// buy contention, not safety.
package stagegraph

import (
	"container/list"
	"fmt"

	"github.com/samber/lo"
)

// Graph is the DAG of stages plus its incrementally maintained runnable
// frontier.
type Graph struct {
	stages map[string]*Stage

	// succs[a] are the stages that depend on a; preds[a] are a's
	// dependencies. Both are adjacency lists over stage IDs.
	succs map[string][]string
	preds map[string][]string

	// predCount[id] is the number of preds[id] not yet FINISHED. A
	// stage becomes eligible for RUNNABLE precisely when this hits
	// zero, checked incrementally on each predecessor's completion
	// rather than by re-scanning the graph.
	predCount map[string]int

	// runnable preserves insertion order (the reference dispatch
	// policy) while giving O(1) membership tests and removal.
	runnable     *list.List
	runnableElem map[string]*list.Element

	built bool
}

// New returns an empty Graph ready for AddStage/AddDependency calls.
func New() *Graph {
	return &Graph{
		stages:       make(map[string]*Stage),
		succs:        make(map[string][]string),
		preds:        make(map[string][]string),
		predCount:    make(map[string]int),
		runnable:     list.New(),
		runnableElem: make(map[string]*list.Element),
	}
}

// AddStage registers a stage. It is an error to add a stage with a
// duplicate ID or to add one after Build has run.
func (g *Graph) AddStage(s *Stage) error {
	if g.built {
		return fmt.Errorf("stagegraph: cannot add stage %s after Build", s.ID)
	}
	if _, exists := g.stages[s.ID]; exists {
		return fmt.Errorf("stagegraph: duplicate stage id %s", s.ID)
	}
	g.stages[s.ID] = s
	return nil
}

// AddDependency records that `to` may not run until `from` has FINISHED.
func (g *Graph) AddDependency(from, to string) error {
	if g.built {
		return fmt.Errorf("stagegraph: cannot add dependency after Build")
	}
	if _, ok := g.stages[from]; !ok {
		return fmt.Errorf("stagegraph: unknown stage %s", from)
	}
	if _, ok := g.stages[to]; !ok {
		return fmt.Errorf("stagegraph: unknown stage %s", to)
	}
	if from == to {
		return fmt.Errorf("stagegraph: stage %s cannot depend on itself", from)
	}
	g.succs[from] = append(g.succs[from], to)
	g.preds[to] = append(g.preds[to], from)
	return nil
}

// Build validates the graph is acyclic, computes predecessor counters, and
// seeds the runnable frontier with every stage whose predecessors are all
// already FINISHED (normally, all stages with no predecessors at all,
// unless FINISHED status was pre-set by a completion-log replay before
// Build runs). It must be called exactly once, after which the graph's
// topology is frozen.
func (g *Graph) Build() error {
	if g.built {
		return fmt.Errorf("stagegraph: Build called twice")
	}
	if err := g.topologicalValidate(); err != nil {
		return err
	}

	for id, s := range g.stages {
		count := 0
		for _, p := range g.preds[id] {
			if g.stages[p].Status != Finished {
				count++
			}
		}
		g.predCount[id] = count
		if count == 0 && s.Status == NotStarted {
			g.enqueueRunnable(s)
		}
	}

	g.built = true
	return nil
}

// topologicalValidate reports an error if the graph contains a cycle.
func (g *Graph) topologicalValidate() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.stages))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.succs[id] {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				return fmt.Errorf("stagegraph: cycle detected: %v -> %s", stack, next)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for id := range g.stages {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stage returns the stage with the given ID, or nil if unknown.
func (g *Graph) Stage(id string) *Stage {
	return g.stages[id]
}

// Stages returns every stage in the graph. The returned slice is a fresh
// copy; mutating it does not affect the graph.
func (g *Graph) Stages() []*Stage {
	return lo.Values(g.stages)
}

// DependentsOf returns the IDs of stages that directly depend on id.
func (g *Graph) DependentsOf(id string) []string {
	return append([]string(nil), g.succs[id]...)
}

// PredecessorsOf returns the IDs of stages that id directly depends on.
func (g *Graph) PredecessorsOf(id string) []string {
	return append([]string(nil), g.preds[id]...)
}

func (g *Graph) enqueueRunnable(s *Stage) {
	if _, already := g.runnableElem[s.ID]; already {
		return
	}
	s.Status = Runnable
	elem := g.runnable.PushBack(s)
	g.runnableElem[s.ID] = elem
}

// removeRunnable removes id from the runnable frontier, if present.
func (g *Graph) removeRunnable(id string) {
	if elem, ok := g.runnableElem[id]; ok {
		g.runnable.Remove(elem)
		delete(g.runnableElem, id)
	}
}

// RunnableIter returns the stages currently in the runnable frontier, in
// insertion order (the reference dispatch policy; see
// internal/scheduler/dispatch.go for alternative orderings).
func (g *Graph) RunnableIter() []*Stage {
	out := make([]*Stage, 0, g.runnable.Len())
	for e := g.runnable.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Stage))
	}
	return out
}

// RunnableLen reports the size of the runnable frontier.
func (g *Graph) RunnableLen() int {
	return g.runnable.Len()
}

// MarkDispatched removes a stage from the runnable frontier and marks it
// RUNNING. Callers (the scheduler core) are responsible for reserving the
// stage's memory on an executor record in the same critical section.
func (g *Graph) MarkDispatched(id string) error {
	s, ok := g.stages[id]
	if !ok {
		return fmt.Errorf("stagegraph: unknown stage %s", id)
	}
	if s.Status != Runnable {
		return fmt.Errorf("stagegraph: stage %s is not runnable (status=%s)", id, s.Status)
	}
	g.removeRunnable(id)
	s.Status = Running
	return nil
}

// SetFinished marks a stage FINISHED without touching its dependents. It
// exists so the scheduler can sequence "commit to completion log, mark
// finished, run completion hook, THEN unblock dependents" — the ordering
// spec.md's report_finished mandates — while still being able to revert
// (via MarkRetryable/MarkFailed) if the completion hook itself fails,
// without ever having exposed a dependent as runnable based on a
// completion that turned out not to hold.
func (g *Graph) SetFinished(id string) error {
	s, ok := g.stages[id]
	if !ok {
		return fmt.Errorf("stagegraph: unknown stage %s", id)
	}
	s.Status = Finished
	return nil
}

// UnblockDependents decrements the predecessor counter of every direct
// dependent of id and enqueues onto the runnable frontier any that just
// reached zero. It returns the IDs of dependents newly made runnable.
func (g *Graph) UnblockDependents(id string) []string {
	var unblocked []string
	for _, depID := range g.succs[id] {
		dep := g.stages[depID]
		if dep.Status == Failed {
			continue
		}
		g.predCount[depID]--
		if g.predCount[depID] == 0 && dep.Status == NotStarted {
			g.enqueueRunnable(dep)
			unblocked = append(unblocked, depID)
		}
	}
	return unblocked
}

// MarkFinished is SetFinished followed immediately by UnblockDependents,
// for callers (tests, stages with no completion hook) that don't need the
// two steps separated. Callers MUST have already durably recorded the
// stage's fingerprint in the completion log before calling this (the
// write-ahead rule): MarkFinished only updates in-memory state and never
// touches the log itself.
func (g *Graph) MarkFinished(id string) ([]string, error) {
	if err := g.SetFinished(id); err != nil {
		return nil, err
	}
	return g.UnblockDependents(id), nil
}

// MarkRetryable returns a stage to RUNNABLE regardless of its current
// status (RUNNING, or FINISHED when a completion hook failed) without
// touching its retry counter: the scheduler updates RetryCount itself,
// with the same rule for a failed stage, a lost executor, and a failed
// hook.
func (g *Graph) MarkRetryable(id string) error {
	s, ok := g.stages[id]
	if !ok {
		return fmt.Errorf("stagegraph: unknown stage %s", id)
	}
	g.enqueueRunnableForce(s)
	return nil
}

// enqueueRunnableForce re-enqueues a stage regardless of its current
// status (used for RUNNING -> RUNNABLE transitions where predCount is
// already zero by construction).
func (g *Graph) enqueueRunnableForce(s *Stage) {
	s.Status = NotStarted
	g.enqueueRunnable(s)
}

// MarkFailed sets a stage to FAILED with the given cause, releases it from
// the runnable frontier if present, and propagates FAILED with
// DependencyFailed cause to every transitive dependent not already
// FINISHED or FAILED, none of which are retried. Propagation happens
// whatever cause is given. It returns the
// IDs of every stage (including id) whose status changed to FAILED.
func (g *Graph) MarkFailed(id string, cause FailureCause) ([]string, error) {
	s, ok := g.stages[id]
	if !ok {
		return nil, fmt.Errorf("stagegraph: unknown stage %s", id)
	}
	g.removeRunnable(id)
	s.Status = Failed
	s.FailureCause = cause

	failed := []string{id}
	queue := append([]string(nil), g.succs[id]...)
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		dep := g.stages[next]
		if dep.Status == Finished || dep.Status == Failed {
			continue
		}
		g.removeRunnable(next)
		dep.Status = Failed
		dep.FailureCause = DependencyFailed
		failed = append(failed, next)
		queue = append(queue, g.succs[next]...)
	}
	return failed, nil
}

// Counts summarizes the graph for status queries.
type Counts struct {
	Total    int
	Finished int
	Failed   int
	Running  int
	Runnable int
}

// Count tallies every stage by status.
func (g *Graph) Count() Counts {
	c := Counts{Total: len(g.stages)}
	for _, s := range g.stages {
		switch s.Status {
		case Finished:
			c.Finished++
		case Failed:
			c.Failed++
		case Running:
			c.Running++
		case Runnable:
			c.Runnable++
		}
	}
	return c
}
