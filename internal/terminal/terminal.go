// Package terminal detects whether the auditor is running attached to
// an interactive terminal, which decides between human-readable and
// syslog report output.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether stderr is connected to a terminal.
// Audit reports go to the terminal when it is, and to syslog when the
// host process runs detached (daemons are the usual audit target).
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
