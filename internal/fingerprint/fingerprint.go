// Package fingerprint computes the stable stage identity hash used by the
// completion log to decide, across process restarts, which stages have
// already run.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Spec is the set of inputs that define a stage's semantics. Two stages
// with identical Spec values must produce the same fingerprint regardless
// of process, host, or map/slice construction order.
type Spec struct {
	// Command is the program plus argument vector, in invocation order.
	Command []string
	// InputPaths are the stage's declared input files. Order does not
	// affect the hash; the list is sorted before hashing.
	InputPaths []string
	// Params carries stage parameters that change the stage's semantics
	// (e.g. a "memory" override or a "gradient" flag). Keys are sorted
	// before hashing so caller-side map order never matters.
	Params map[string]string
}

// Compute returns the hex-encoded SHA-256 fingerprint of spec.
//
// The hash covers, in order: the command vector, the sorted input paths,
// and the sorted "key=value" parameter pairs. Each element is newline
// terminated, and the command and input sections are each followed by a
// NUL byte, so that no ambiguity is possible between e.g. a command of
// ["a", "bc"] and one of ["ab", "c"].
func Compute(spec Spec) string {
	h := sha256.New()

	for _, arg := range spec.Command {
		h.Write([]byte(arg))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0})

	inputs := append([]string(nil), spec.InputPaths...)
	sort.Strings(inputs)
	for _, p := range inputs {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0})

	keys := make([]string, 0, len(spec.Params))
	for k := range spec.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(spec.Params[k]))
		h.Write([]byte{'\n'})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// CommandLine renders a command vector the way it would appear in a log
// line, joining arguments with single spaces. It does not shell-escape;
// it exists purely for human-readable diagnostics.
func CommandLine(cmd []string) string {
	return strings.Join(cmd, " ")
}
