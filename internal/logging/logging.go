//go:build linux

// Package logging emits the auditor's reports. Positive verdicts become
// InsecureAccess records, internal failures become Cannot-audit
// records. Reports go to syslog, or to stderr when the process is
// attached to a terminal; when the PATHAUDITOR_TEST environment
// variable is set a single trace line is written to stderr instead so
// tests can assert which functions get audited.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	pathauditor "github.com/google/path-auditor"
	"github.com/google/path-auditor/internal/procfs"
	"github.com/google/path-auditor/internal/terminal"
)

// TestEnvVar enables the trace output path. The core never reads it;
// only the logger does.
const TestEnvVar = "PATHAUDITOR_TEST"

var (
	loggerOnce sync.Once
	logger     *slog.Logger

	cmdlineOnce sync.Once
	cmdline     string
)

func selfCmdline() string {
	cmdlineOnce.Do(func() {
		cmdline = procfs.SelfCmdline()
	})
	return cmdline
}

// reportLogger builds the slog logger reports are written with. A
// terminal gets human-readable text on stderr; anything else goes to
// the system log.
func reportLogger() *slog.Logger {
	loggerOnce.Do(func() {
		if terminal.IsInteractive() {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			return
		}
		h, err := newSyslogHandler("pathauditor")
		if err != nil {
			// Syslog may be unavailable (containers without /dev/log).
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			return
		}
		logger = slog.New(h)
	})
	return logger
}

// SetLogger overrides the report destination. Tests use it to capture
// reports.
func SetLogger(l *slog.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}

func joinUints(vals []uint64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

// LogInsecureAccess reports a positive verdict for the given event,
// intercepted in functionName.
func LogInsecureAccess(event pathauditor.FileEvent, functionName string) {
	// for testing that functions get audited
	if os.Getenv(TestEnvVar) != "" {
		fmt.Fprintf(os.Stderr, "AUDITING:%s\n", functionName)
		return
	}

	reportLogger().Warn("InsecureAccess",
		slog.String("report_id", ulid.Make().String()),
		slog.String("function", functionName),
		slog.String("cmdline", selfCmdline()),
		slog.Int("syscall_nr", event.SyscallNr),
		slog.String("args", joinUints(event.Args())),
		slog.String("path_args", strings.Join(event.PathArgs(), ", ")),
		slog.Int("uid", os.Getuid()),
		slog.String("stack_trace", currentStackTrace()),
	)
}

// LogDirectSyscalls reports that an exec'd binary issues raw syscall
// instructions and would therefore escape a preload interceptor.
func LogDirectSyscalls(path string, sites int) {
	if os.Getenv(TestEnvVar) != "" {
		return
	}
	reportLogger().Warn("DirectSyscalls",
		slog.String("path", path),
		slog.Int("sites", sites),
	)
}

// LogAuditError reports that an audit could not classify its event.
func LogAuditError(err error) {
	if os.Getenv(TestEnvVar) != "" {
		return
	}
	reportLogger().Warn("Cannot audit", slog.String("error", err.Error()))
}
