//go:build linux

// Package sysname resolves syscall numbers to names for reports and
// configuration, using the seccomp arch tables of the running kernel.
package sysname

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
)

var info, errInfo = arch.GetInfo("")

// Name returns the name of the given syscall number on the native
// architecture.
func Name(nr int) (string, error) {
	if errInfo != nil {
		return "", errInfo
	}
	n, ok := info.SyscallNumbers[nr]
	if !ok {
		return "", fmt.Errorf("syscall nr %d does not exist", nr)
	}
	return n, nil
}

// Number returns the syscall number for name on the native
// architecture.
func Number(name string) (int, error) {
	if errInfo != nil {
		return 0, errInfo
	}
	nr, ok := info.SyscallNames[name]
	if !ok {
		return 0, fmt.Errorf("syscall %q does not exist", name)
	}
	return nr, nil
}
