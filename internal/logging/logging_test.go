package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/plexus-engine/plexus/internal/logging"
)

func TestVerboseWritesWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, true)
	l.Log("hello %s", "world")

	out := buf.String()
	if !strings.Contains(out, "hello world") {
		t.Fatalf("output = %q, want it to contain %q", out, "hello world")
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("output = %q, want exactly one line", out)
	}
}

func TestVerboseSilentWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, false)
	l.Log("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("buf = %q, want empty output when disabled", buf.String())
	}
}

func TestVerboseNilReceiverIsSafe(t *testing.T) {
	var l *logging.Verbose
	l.Log("must not panic")
}

func TestDiscardDropsEverything(t *testing.T) {
	// Discard has no observable state; this just confirms it satisfies the
	// Logger interface and never panics regardless of arguments.
	logging.Discard.Log("%s %d", "x", 1)
}
