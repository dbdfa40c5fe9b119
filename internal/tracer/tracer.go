//go:build linux && amd64

// Package tracer supervises a command under ptrace and audits every
// filesystem-mutating syscall it issues. Unlike a preload shim it also
// sees raw syscalls and statically linked binaries. Syscalls are never
// blocked or altered; the tracer only classifies and reports.
package tracer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	pathauditor "github.com/google/path-auditor"
	"github.com/google/path-auditor/internal/elfanalyzer"
	"github.com/google/path-auditor/internal/logging"
	"github.com/google/path-auditor/internal/procfs"
	"github.com/google/path-auditor/internal/sysname"
)

// ErrNoCommand is returned when Run is called without a command.
var ErrNoCommand = errors.New("no command to trace")

// Tracer holds the audit policy for one traced command tree.
type Tracer struct {
	// Audited is the set of syscall numbers to audit. Empty means every
	// syscall the dispatcher has a policy for.
	Audited map[int]bool

	// Fallback resolves paths against the ambient namespace when the
	// traced process is gone by the time the audit runs.
	Fallback bool

	// MaxIterations caps the component count of each walk.
	MaxIterations int

	// AnalyzeExec scans exec'd binaries for raw syscall instructions.
	AnalyzeExec bool
}

// pathRegisters maps each audited syscall to the argument positions
// that hold path pointers, in the order the dispatcher expects them.
var pathRegisters = map[int][]int{
	unix.SYS_OPEN:              {0},
	unix.SYS_CREAT:             {0},
	unix.SYS_CHDIR:             {0},
	unix.SYS_CHMOD:             {0},
	unix.SYS_CHOWN:             {0},
	unix.SYS_LCHOWN:            {0},
	unix.SYS_TRUNCATE:          {0},
	unix.SYS_MKDIR:             {0},
	unix.SYS_MKNOD:             {0},
	unix.SYS_RMDIR:             {0},
	unix.SYS_UNLINK:            {0},
	unix.SYS_CHROOT:            {0},
	unix.SYS_USELIB:            {0},
	unix.SYS_SWAPON:            {0},
	unix.SYS_EXECVE:            {0},
	unix.SYS_UMOUNT2:           {0},
	unix.SYS_OPENAT:            {1},
	unix.SYS_MKDIRAT:           {1},
	unix.SYS_MKNODAT:           {1},
	unix.SYS_UNLINKAT:          {1},
	unix.SYS_FCHMODAT:          {1},
	unix.SYS_FCHOWNAT:          {1},
	unix.SYS_EXECVEAT:          {1},
	unix.SYS_NAME_TO_HANDLE_AT: {1},
	unix.SYS_RENAME:            {0, 1},
	unix.SYS_LINK:              {0, 1},
	unix.SYS_SYMLINK:           {0, 1},
	unix.SYS_MOUNT:             {0, 1},
	unix.SYS_RENAMEAT:          {1, 3},
	unix.SYS_RENAMEAT2:         {1, 3},
	unix.SYS_LINKAT:            {1, 3},
	unix.SYS_SYMLINKAT:         {0, 2},
}

// SupportedSyscalls returns the syscall numbers the tracer can audit.
func SupportedSyscalls() []int {
	nrs := make([]int, 0, len(pathRegisters))
	for nr := range pathRegisters {
		nrs = append(nrs, nr)
	}
	return nrs
}

func (t *Tracer) audited(nr int) bool {
	if _, supported := pathRegisters[nr]; !supported {
		return false
	}
	if len(t.Audited) == 0 {
		return true
	}
	return t.Audited[nr]
}

func syscallArgs(regs *unix.PtraceRegs) []uint64 {
	return []uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9}
}

// readString pulls a NUL-terminated path out of the tracee's memory.
func readString(pid int, addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	buf := make([]byte, unix.PathMax)
	n, err := unix.PtracePeekText(pid, uintptr(addr), buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("failed to read tracee memory at %#x: %w", addr, err)
	}
	if idx := bytes.IndexByte(buf[:n], 0); idx >= 0 {
		return string(buf[:idx]), nil
	}
	return string(buf[:n]), nil
}

// buildEvent turns a syscall-entry stop into a FileEvent.
func buildEvent(pid int, regs *unix.PtraceRegs) (pathauditor.FileEvent, error) {
	nr := int(regs.Orig_rax)
	args := syscallArgs(regs)

	var pathArgs []string
	for _, pos := range pathRegisters[nr] {
		s, err := readString(pid, args[pos])
		if err != nil {
			return pathauditor.FileEvent{}, err
		}
		pathArgs = append(pathArgs, s)
	}
	return pathauditor.NewFileEvent(nr, args, pathArgs), nil
}

// auditEvent classifies one syscall-entry of pid and reports the
// outcome.
func (t *Tracer) auditEvent(pid int, event pathauditor.FileEvent) {
	cwd, err := procfs.Cwd(pid)
	if err != nil {
		// The process may be mid-exit. With fallback the audit can still
		// resolve against the ambient namespace.
		cwd = "/"
	}
	procInfo := pathauditor.NewRemoteProcessInformation(pid, cwd, procfs.Cmdline(pid), t.Fallback)

	maxIterations := t.MaxIterations
	if maxIterations <= 0 {
		maxIterations = pathauditor.DefaultMaxIterationCount
	}

	functionName, err := sysname.Name(event.SyscallNr)
	if err != nil {
		functionName = fmt.Sprintf("syscall_%d", event.SyscallNr)
	}

	controlled, err := pathauditor.FileEventIsUserControlledWithLimit(procInfo, event, maxIterations)
	if err != nil {
		logging.LogAuditError(err)
		return
	}
	if controlled {
		logging.LogInsecureAccess(event, functionName)
	}

	if t.AnalyzeExec && (event.SyscallNr == unix.SYS_EXECVE || event.SyscallNr == unix.SYS_EXECVEAT) {
		t.analyzeExec(event)
	}
}

func (t *Tracer) analyzeExec(event pathauditor.FileEvent) {
	path, err := event.PathArg(0)
	if err != nil || path == "" {
		return
	}
	result, err := elfanalyzer.AnalyzeFile(path)
	if err != nil {
		return
	}
	if result.EscapesInterception() {
		logging.LogDirectSyscalls(path, len(result.DirectSyscalls))
	}
}

// Run starts the command under ptrace and audits it until the whole
// process tree exits. It returns the exit code of the main child.
func (t *Tracer) Run(name string, args []string) (int, error) {
	if name == "" {
		return 0, ErrNoCommand
	}

	// ptrace is thread based
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &unix.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %q: %w", name, err)
	}
	child := cmd.Process.Pid

	var wstatus unix.WaitStatus
	if _, err := unix.Wait4(child, &wstatus, 0, nil); err != nil {
		return 0, fmt.Errorf("failed to wait for tracee: %w", err)
	}

	options := unix.PTRACE_O_TRACESYSGOOD | unix.PTRACE_O_EXITKILL |
		unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEFORK |
		unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEEXEC
	if err := unix.PtraceSetOptions(child, options); err != nil {
		return 0, fmt.Errorf("failed to set ptrace options: %w", err)
	}

	inSyscall := make(map[int]bool)
	exitCode := 0

	if err := unix.PtraceSyscall(child, 0); err != nil {
		return 0, fmt.Errorf("failed to resume tracee: %w", err)
	}

	for {
		pid, err := unix.Wait4(-1, &wstatus, unix.WALL, nil)
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				// every tracee is gone
				return exitCode, nil
			}
			return 0, fmt.Errorf("wait4 failed: %w", err)
		}

		switch {
		case wstatus.Exited():
			delete(inSyscall, pid)
			if pid == child {
				exitCode = wstatus.ExitStatus()
			}
			continue
		case wstatus.Signaled():
			delete(inSyscall, pid)
			if pid == child {
				exitCode = 128 + int(wstatus.Signal())
			}
			continue
		case wstatus.Stopped():
			sig := wstatus.StopSignal()
			deliver := 0

			_, known := inSyscall[pid]

			if sig == unix.SIGTRAP|0x80 {
				// syscall stop; audit on entry only
				if !inSyscall[pid] {
					var regs unix.PtraceRegs
					if err := unix.PtraceGetRegs(pid, &regs); err == nil && t.audited(int(regs.Orig_rax)) {
						event, err := buildEvent(pid, &regs)
						if err != nil {
							logging.LogAuditError(err)
						} else {
							t.auditEvent(pid, event)
						}
					}
				}
				inSyscall[pid] = !inSyscall[pid]
			} else if sig == unix.SIGTRAP {
				// event stops (clone/fork/exec) land here. They happen
				// inside the clone/fork/exec syscall, so the phase is left
				// as is: the next syscall stop is that syscall's exit.
				if !known {
					inSyscall[pid] = false
				}
			} else if sig == unix.SIGSTOP && !known {
				// initial stop of a newly attached clone/fork child
				inSyscall[pid] = false
			} else {
				// forward the real signal to the tracee
				deliver = int(sig)
			}

			if err := unix.PtraceSyscall(pid, deliver); err != nil && !errors.Is(err, unix.ESRCH) {
				return 0, fmt.Errorf("failed to resume pid %d: %w", pid, err)
			}
		}
	}
}
