// Package completionlog implements C2: the append-only, fsync'd record of
// finished-stage fingerprints that is the sole mechanism for crash-resume.
//
// Earlier iterations of this system pickled the entire in-memory pipeline
// state for restart; at 30k+ stages that serialization stalled the server
// for minutes. The log is deliberately dumber than that: one line per
// finished stage, appended and flushed before the RPC that reported the
// completion is allowed to return success.
package completionlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pydpiper-go/pydpiperd/internal/pdfileutil"
)

// DirName is the fixed subdirectory, relative to the pipeline's working
// directory, that holds the completion log.
const DirName = "pydpiper-backups"

// FileName is the log's fixed leaf name within Path(workDir, pipelineName).
const FileName = "finished-stages"

// Path returns the on-disk location of the completion log for a pipeline
// named pipelineName rooted at workDir.
func Path(workDir, pipelineName string) string {
	return filepath.Join(workDir, DirName, pipelineName, FileName)
}

// Log is an append-only set of finished-stage fingerprints backed by a
// single text file, one fingerprint per line.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens (creating if necessary) the completion log at path for
// appending. It does not read existing entries; call Load for that.
func Open(path string) (*Log, error) {
	f, err := pdfileutil.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("completionlog: open %s: %w", path, err)
	}
	return &Log{path: path, file: f}, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Load reads every complete line from the log file at path and returns
// the set of fingerprints found. A partial trailing line (no terminating
// newline, e.g. from a process killed mid-write) is discarded rather than
// treated as a valid entry. Load does not require the log to already be
// open via Open, and does not itself open it for writing.
func Load(path string) (map[string]struct{}, error) {
	found := make(map[string]struct{})

	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return found, nil
		}
		return nil, fmt.Errorf("completionlog: load %s: %w", path, err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && err == nil {
			found[trimNewline(line)] = struct{}{}
		}
		if err != nil {
			if err == io.EOF {
				// A non-empty line with no trailing newline is a
				// partial write; discard it per the write-ahead
				// contract (the append that produced it never
				// completed, so the fingerprint isn't durable).
				break
			}
			return nil, fmt.Errorf("completionlog: read %s: %w", path, err)
		}
	}
	return found, nil
}

func trimNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}

// Append durably records fingerprint as finished: the write is flushed and
// fsync'd before Append returns, so a successful return is a promise that
// a subsequent Load (even after a crash) will observe it. Concurrent
// Append calls are serialized.
func (l *Log) Append(fingerprint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.WriteString(fingerprint + "\n"); err != nil {
		return fmt.Errorf("completionlog: write: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("completionlog: fsync: %w", err)
	}
	return nil
}
