//go:build linux && amd64

// Command pathaudit runs a command under ptrace and reports every
// filesystem syscall whose path an unprivileged user could redirect.
// Syscalls always proceed unmodified; only reports are produced.
//
//	pathaudit [-config audit.toml] [-fallback] [-max-iterations n] -- command [args...]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/path-auditor/internal/config"
	"github.com/google/path-auditor/internal/tracer"
)

var (
	configPath    = flag.String("config", "", "path to TOML config file")
	fallback      = flag.Bool("fallback", true, "resolve against the ambient namespace when the tracee is gone")
	maxIterations = flag.Int("max-iterations", 0, "walk iteration cap (overrides config if set)")
	analyzeExec   = flag.Bool("analyze-exec", true, "scan exec'd binaries for raw syscall instructions")
	logLevel      = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
)

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func run() (int, error) {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2, nil
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return 2, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return 2, err
		}
	}
	audited, err := cfg.SyscallNumbers()
	if err != nil {
		return 2, err
	}

	t := &tracer.Tracer{
		Audited:       audited,
		Fallback:      cfg.Audit.FallbackToAmbient && *fallback,
		MaxIterations: cfg.Audit.MaxIterations,
		AnalyzeExec:   cfg.Audit.AnalyzeExec && *analyzeExec,
	}
	if *maxIterations > 0 {
		t.MaxIterations = *maxIterations
	}

	slog.Debug("starting trace", "command", args[0], "args", args[1:])
	exitCode, err := t.Run(args[0], args[1:])
	if err != nil {
		return 1, err
	}
	return exitCode, nil
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pathaudit: %v\n", err)
	}
	os.Exit(code)
}
