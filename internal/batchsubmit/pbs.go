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

var pbsScriptTemplate = template.Must(template.New("pbs").Parse(`#!/bin/bash
#PBS -N {{.Name}}
#PBS -l {{.MemVar}}={{.MemoryGB}}gb
{{- if .PE}}
#PBS -l nodes=1:ppn={{.Cores}}
{{- end}}
#PBS -o {{.LogDir}}
#PBS -e {{.LogDir}}
exec {{.Command}}
`))

// PBSSubmitter submits executor jobs to PBS/Torque via qsub, mirroring
// SGESubmitter's approach with PBS's directive syntax.
type PBSSubmitter struct {
	QsubPath string
}

func (s *PBSSubmitter) qsub() string {
	if s.QsubPath != "" {
		return s.QsubPath
	}
	return "qsub"
}

func (s *PBSSubmitter) Submit(ctx context.Context, req Request) (JobID, error) {
	memVar := req.MemRequestVariable
	if memVar == "" {
		memVar = "mem"
	}
	quoted := make([]string, len(req.Command))
	for i, arg := range req.Command {
		quoted[i] = shellescape.Quote(arg)
	}

	var buf bytes.Buffer
	err := pbsScriptTemplate.Execute(&buf, struct {
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
		return "", fmt.Errorf("batchsubmit: render pbs script: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.qsub())
	cmd.Stdin = &buf
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("batchsubmit: qsub: %w", err)
	}
	return JobID(strings.TrimSpace(string(out))), nil
}

func (s *PBSSubmitter) Cancel(ctx context.Context, id JobID) error {
	cmd := exec.CommandContext(ctx, "qdel", string(id))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("batchsubmit: qdel %s: %w", id, err)
	}
	return nil
}
