package main

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// isTerminal reports whether stdout is connected to a TTY, the same
// term.IsTerminal(int(os.Stdout.Fd())) check the teacher's internal/ui
// package uses to decide between styled and plain output.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// colorProfile reports the ANSI color capability of the attached terminal,
// falling back to termenv.Ascii (no color) when stdout isn't a TTY so
// piped output stays free of escape codes.
func colorProfile() termenv.Profile {
	if !isTerminal() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// terminalWidth returns the terminal's column count, or 80 when it can't be
// determined (piped output, or running under a harness with no real TTY).
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
