// Package logging is the engine's ambient logger: a small internal type with
// a printf-shaped Log method gated by a verbosity flag, the way the teacher's
// daemon code takes a `daemonLogger` interface (`log(format string, args
// ...any)`) rather than pulling in log/slog or a third-party structured
// logger for its core engine paths. File output, when configured, rotates
// through gopkg.in/natefinch/lumberjack.v2 (a direct teacher dependency
// otherwise unused in the retrieved slice of the teacher tree).
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the narrow interface internal/plexusdoc, internal/entity and
// cmd/plexusctl program against; Verbose's zero value is a silent logger.
type Logger interface {
	Log(format string, args ...any)
}

// Verbose is the one concrete Logger this module ships: writes timestamped
// lines to an io.Writer (stderr by default), guarded by a mutex since the
// orchestrator's transaction guard and the CLI's background watchers may log
// concurrently.
type Verbose struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
}

// New constructs a Logger writing to out (os.Stderr if nil). enabled gates
// whether Log actually writes anything, mirroring the teacher's verbosity
// flag rather than a leveled logger.
func New(out io.Writer, enabled bool) *Verbose {
	if out == nil {
		out = os.Stderr
	}
	return &Verbose{out: out, enabled: enabled}
}

// NewRotating wires a lumberjack-backed file logger for the orchestrator's
// transaction/undo audit trail (SPEC_FULL.md §4.7 ambient stack).
func NewRotating(path string, maxSizeMB, maxBackups int) *Verbose {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return New(lj, true)
}

func (v *Verbose) Log(format string, args ...any) {
	if v == nil || !v.enabled {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Discard is a Logger that drops everything, used as the default when no
// logger is configured.
var Discard Logger = discard{}

type discard struct{}

func (discard) Log(string, ...any) {}
