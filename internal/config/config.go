//go:build linux

// Package config loads the tracer's audit policy from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/google/path-auditor/internal/sysname"
)

// Error definitions
var (
	// ErrUnknownSyscall is returned when the config names a syscall that
	// doesn't exist on this architecture.
	ErrUnknownSyscall = errors.New("unknown syscall name")

	// ErrInvalidMaxIterations is returned for a non-positive walk cap.
	ErrInvalidMaxIterations = errors.New("max_iterations must be positive")
)

// Config is the root of the TOML configuration.
type Config struct {
	Audit AuditConfig `toml:"audit"`
}

// AuditConfig selects what gets audited and how walks behave.
type AuditConfig struct {
	// Syscalls restricts auditing to the named syscalls. Empty means
	// every supported syscall.
	Syscalls []string `toml:"syscalls"`

	// FallbackToAmbient retries path lookups against the tracer's own
	// namespace when the traced process has already exited.
	FallbackToAmbient bool `toml:"fallback_to_ambient"`

	// MaxIterations caps the number of path components per walk.
	MaxIterations int `toml:"max_iterations"`

	// AnalyzeExec scans exec'd binaries for raw syscall instructions.
	AnalyzeExec bool `toml:"analyze_exec"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Audit: AuditConfig{
			FallbackToAmbient: true,
			MaxIterations:     40,
			AnalyzeExec:       true,
		},
	}
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Audit.MaxIterations <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxIterations, c.Audit.MaxIterations)
	}
	for _, name := range c.Audit.Syscalls {
		if _, err := sysname.Number(name); err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
		}
	}
	return nil
}

// SyscallNumbers resolves the configured syscall names. An empty
// result means no restriction.
func (c *Config) SyscallNumbers() (map[int]bool, error) {
	if len(c.Audit.Syscalls) == 0 {
		return nil, nil
	}
	nrs := make(map[int]bool, len(c.Audit.Syscalls))
	for _, name := range c.Audit.Syscalls {
		nr, err := sysname.Number(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
		}
		nrs[nr] = true
	}
	return nrs, nil
}
