// Package statusview renders a scheduler status snapshot as a
// human-readable table for the status CLI, using the same
// jedib0t/go-pretty + fatih/color stack the teacher uses for its own
// terminal output.
package statusview

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Snapshot is the minimal set of fields statusview needs to render;
// callers adapt their own status type into this rather than importing
// internal/scheduler or the RPC message types here.
type Snapshot struct {
	Total     int
	Finished  int
	Running   int
	Runnable  int
	Failed    int
	Executors int
	Draining  bool
	Fatal     string
}

// Phase renders the human-readable phase label for a Snapshot.
func (s Snapshot) Phase() string {
	switch {
	case s.Fatal != "":
		return "FATAL: " + s.Fatal
	case s.Draining:
		return "DRAINING"
	default:
		return "RUNNING"
	}
}

// Render writes a one-row status table to w. When colorize is true,
// the failed count and phase are highlighted red/yellow/green.
func Render(w io.Writer, s Snapshot, colorize bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"TOTAL", "FINISHED", "RUNNING", "RUNNABLE", "FAILED", "EXECUTORS", "PHASE"})

	failedCell := fmt.Sprintf("%d", s.Failed)
	phase := s.Phase()
	if colorize {
		if s.Failed > 0 {
			failedCell = color.RedString("%d", s.Failed)
		}
		switch {
		case s.Fatal != "":
			phase = color.RedString(phase)
		case s.Draining:
			phase = color.YellowString(phase)
		default:
			phase = color.GreenString(phase)
		}
	}

	t.AppendRow(table.Row{s.Total, s.Finished, s.Running, s.Runnable, failedCell, s.Executors, phase})
	t.Render()
}
