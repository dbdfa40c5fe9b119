//go:build linux

// Package elfanalyzer inspects executables the audited process is
// about to exec. A binary that issues raw syscall instructions
// bypasses libc entirely, so a preload-based interceptor would never
// see its filesystem calls; exec reports carry that information so the
// operator knows the audit coverage ends there.
package elfanalyzer

import (
	"debug/elf"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/google/path-auditor/internal/sysname"
)

const (
	// x86_64 instructions are at most 15 bytes.
	maxInstructionLength = 15

	// how many instructions to scan backward from a syscall instruction
	// looking for the number loaded into EAX
	maxBackwardScan = 50
)

// ErrNotELF is returned for files that are not ELF executables
// (scripts, text files).
var ErrNotELF = errors.New("not an ELF binary")

// SyscallSite is one raw syscall instruction found in the text section.
type SyscallSite struct {
	// Number is the syscall number loaded into EAX before the
	// instruction, or -1 if it could not be determined.
	Number int
	// Name is the resolved syscall name, empty when unknown.
	Name string
	// Location is the virtual address of the instruction.
	Location uint64
}

// Result summarises the scan of one executable.
type Result struct {
	// DirectSyscalls lists every raw syscall instruction found.
	DirectSyscalls []SyscallSite
}

// EscapesInterception reports whether the binary can issue filesystem
// syscalls without going through libc.
func (r Result) EscapesInterception() bool {
	return len(r.DirectSyscalls) > 0
}

// AnalyzeFile scans the .text section of an x86-64 ELF binary for raw
// syscall instructions. Returns ErrNotELF for non-ELF files.
func AnalyzeFile(path string) (Result, error) {
	f, err := elf.Open(path)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			return Result{}, ErrNotELF
		}
		return Result{}, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		// Only x86-64 text can be decoded here.
		return Result{}, nil
	}

	text := f.Section(".text")
	if text == nil {
		return Result{}, nil
	}
	code, err := text.Data()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read .text of %q: %w", path, err)
	}

	return scanText(code, text.Addr), nil
}

// scanText decodes the code linearly and records every SYSCALL
// instruction together with the syscall number a preceding immediate
// move into EAX establishes. Only a window of maxBackwardScan decoded
// instructions is retained.
func scanText(code []byte, base uint64) Result {
	var result Result
	window := make([]x86asm.Inst, 0, maxBackwardScan)

	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			// Data in the middle of text (jump tables, padding); resync
			// one byte at a time.
			offset++
			continue
		}

		if inst.Op == x86asm.SYSCALL {
			nr := backtrackSyscallNumber(window)
			site := SyscallSite{Number: nr, Location: base + uint64(offset)}
			if nr >= 0 {
				if name, err := sysname.Name(nr); err == nil {
					site.Name = name
				}
			}
			result.DirectSyscalls = append(result.DirectSyscalls, site)
		}

		if len(window) == maxBackwardScan {
			copy(window, window[1:])
			window = window[:maxBackwardScan-1]
		}
		window = append(window, inst)
		offset += inst.Len
	}
	return result
}

// backtrackSyscallNumber walks backward over the instructions preceding
// a syscall looking for the value loaded into EAX/RAX. Gives up at
// control flow or anything else that clobbers the register, returning
// -1.
func backtrackSyscallNumber(prev []x86asm.Inst) int {
	scanned := 0
	for i := len(prev) - 1; i >= 0 && scanned < maxBackwardScan; i-- {
		inst := prev[i]
		scanned++

		if isImm, val := immediateMoveToEAX(inst); isImm {
			return int(val)
		}
		if modifiesEAX(inst) || isControlFlow(inst) {
			return -1
		}
	}
	return -1
}

func immediateMoveToEAX(inst x86asm.Inst) (bool, int64) {
	if len(inst.Args) < 2 || inst.Args[0] == nil || inst.Args[1] == nil {
		return false, 0
	}
	dest, ok := inst.Args[0].(x86asm.Reg)
	if !ok || (dest != x86asm.EAX && dest != x86asm.RAX) {
		return false, 0
	}
	switch inst.Op {
	case x86asm.MOV:
		if imm, ok := inst.Args[1].(x86asm.Imm); ok {
			return true, int64(imm)
		}
	case x86asm.XOR:
		// self-XOR zeroes the register
		if src, ok := inst.Args[1].(x86asm.Reg); ok && src == dest {
			return true, 0
		}
	}
	return false, 0
}

func modifiesEAX(inst x86asm.Inst) bool {
	if inst.Args[0] == nil {
		return false
	}
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return false
	}
	return reg == x86asm.EAX || reg == x86asm.RAX || reg == x86asm.AX || reg == x86asm.AL
}

func isControlFlow(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.JMP, x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
		x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO,
		x86asm.JP, x86asm.JS, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.CALL, x86asm.RET, x86asm.IRET, x86asm.INT,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}
