package batchsubmit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
)

var sgeScriptTemplate = template.Must(template.New("sge").Parse(`#!/bin/bash
#$ -N {{.Name}}
#$ -l {{.MemVar}}={{.MemoryGB}}G
{{- if .PE}}
#$ -pe {{.PE}} {{.Cores}}
{{- end}}
#$ -o {{.LogDir}}
#$ -e {{.LogDir}}
exec {{.Command}}
`))

// SGESubmitter submits executor jobs to Sun/Son of Grid Engine via qsub.
// It is intentionally thin: a reference implementation of the abstract
// Submitter contract, not a site-tuned production job script.
type SGESubmitter struct {
	// QsubPath overrides the qsub binary looked up on PATH, for testing.
	QsubPath string
}

func (s *SGESubmitter) qsub() string {
	if s.QsubPath != "" {
		return s.QsubPath
	}
	return "qsub"
}

func (s *SGESubmitter) Submit(ctx context.Context, req Request) (JobID, error) {
	memVar := req.MemRequestVariable
	if memVar == "" {
		memVar = "mem"
	}
	quoted := make([]string, len(req.Command))
	for i, arg := range req.Command {
		quoted[i] = shellescape.Quote(arg)
	}

	var buf bytes.Buffer
	err := sgeScriptTemplate.Execute(&buf, struct {
		Name, MemVar, LogDir, PE, Command string
		MemoryGB                          float64
		Cores                             int
	}{
		Name:     req.Name,
		MemVar:   memVar,
		LogDir:   shellescape.Quote(req.LogDir),
		PE:       req.ParallelEnvironment,
		Command:  strings.Join(quoted, " "),
		MemoryGB: req.MemoryGB,
		Cores:    req.Cores,
	})
	if err != nil {
		return "", fmt.Errorf("batchsubmit: render sge script: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.qsub())
	cmd.Stdin = &buf
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("batchsubmit: qsub: %w", err)
	}
	return JobID(strings.TrimSpace(string(out))), nil
}

func (s *SGESubmitter) Cancel(ctx context.Context, id JobID) error {
	cmd := exec.CommandContext(ctx, "qdel", string(id))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("batchsubmit: qdel %s: %w", id, err)
	}
	return nil
}
