//go:build linux

package logging

import (
	"fmt"
	"runtime"
	"strings"
)

const maxStackFrames = 20

// currentStackTrace formats the caller's stack, skipping the logging
// frames themselves.
func currentStackTrace() string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return "(unknown)"
	}

	var lines []string
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		symbol := frame.Function
		if symbol == "" {
			symbol = "(unknown)"
		}
		lines = append(lines, fmt.Sprintf("  %#012x %s", frame.PC, symbol))
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}
