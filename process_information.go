//go:build linux

package pathauditor

import (
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ProcessInformation supplies directory descriptors in the filesystem
// view of the process that issued a syscall. Each method returns a
// freshly opened descriptor owned by the caller; the caller must close
// it.
type ProcessInformation interface {
	// RootFD opens the root directory of the target process.
	RootFD(openFlags int) (int, error)
	// CwdFD opens the current working directory of the target process.
	CwdFD(openFlags int) (int, error)
	// DupDirFD re-opens a directory descriptor of the target process
	// with the given flags.
	DupDirFD(fd int, openFlags int) (int, error)
}

func openPath(path string, openFlags int) (int, error) {
	fd, err := unix.Open(path, openFlags, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: could not open %q: %v", ErrFailedPrecondition, path, err)
	}
	return fd, nil
}

// SameProcessInformation represents the calling process. CwdFD simply
// opens "." and so on.
type SameProcessInformation struct{}

func (SameProcessInformation) RootFD(openFlags int) (int, error) {
	return openPath("/", openFlags)
}

func (SameProcessInformation) CwdFD(openFlags int) (int, error) {
	return openPath(".", openFlags)
}

func (SameProcessInformation) DupDirFD(fd int, openFlags int) (int, error) {
	// openat instead of dup so that we control the open flags
	newFD, err := unix.Openat(fd, ".", openFlags, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: openat on dir fd %d failed: %v", ErrFailedPrecondition, fd, err)
	}
	return newFD, nil
}

// RemoteProcessInformation represents another process. Descriptors are
// looked up through the proc filesystem.
type RemoteProcessInformation struct {
	pid     int
	cwd     string
	cmdline string
	// fallback controls what happens when the process does not exist
	// anymore: RootFD retries with "/" and CwdFD with cwd, both resolved
	// in the current mount namespace. DupDirFD does not fall back.
	fallback bool
}

// NewRemoteProcessInformation returns process information for pid. The
// cwd is required for resolving relative paths; cmdline is only used
// for logging and may be empty.
func NewRemoteProcessInformation(pid int, cwd, cmdline string, fallback bool) *RemoteProcessInformation {
	return &RemoteProcessInformation{pid: pid, cwd: cwd, cmdline: cmdline, fallback: fallback}
}

func (p *RemoteProcessInformation) openInProc(rel string, openFlags int) (int, error) {
	return openPath(filepath.Join("/proc", strconv.Itoa(p.pid), rel), openFlags)
}

func (p *RemoteProcessInformation) RootFD(openFlags int) (int, error) {
	fd, err := p.openInProc("root", openFlags)
	if err == nil || !p.fallback {
		return fd, err
	}
	return openPath("/", openFlags)
}

func (p *RemoteProcessInformation) CwdFD(openFlags int) (int, error) {
	// The root of the target process might not be the same as ours, so
	// resolve the cwd relative to /proc/<pid>/root.
	fd, err := p.openInProc(filepath.Join("root", p.cwd), openFlags)
	if err == nil || !p.fallback {
		return fd, err
	}
	return openPath(p.cwd, openFlags)
}

func (p *RemoteProcessInformation) DupDirFD(fd int, openFlags int) (int, error) {
	return p.openInProc(filepath.Join("fd", strconv.Itoa(fd)), openFlags)
}

func (p *RemoteProcessInformation) Pid() int { return p.pid }

func (p *RemoteProcessInformation) Cwd() string { return p.cwd }

func (p *RemoteProcessInformation) Cmdline() string { return p.cmdline }
