//go:build linux && amd64

package pathauditor

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileEventIsUserControlled reduces a FileEvent to one or more path
// walks according to the per-syscall policy: which path argument is
// audited, which directory descriptor the walk starts at, whether the
// trailing component is dropped (for syscalls that act on the entry
// itself and don't follow a trailing symlink), and whether a secondary
// path needs auditing as well.
func FileEventIsUserControlled(procInfo ProcessInformation, event FileEvent) (bool, error) {
	return FileEventIsUserControlledWithLimit(procInfo, event, DefaultMaxIterationCount)
}

// FileEventIsUserControlledWithLimit is FileEventIsUserControlled with
// an explicit iteration cap for every walk it performs.
func FileEventIsUserControlledWithLimit(procInfo ProcessInformation, event FileEvent, maxIterationCount int) (bool, error) {
	path, err := event.PathArg(0)
	if err != nil {
		return false, err
	}

	var fdArg *int
	skipLastElement := false

	setFDArg := func(idx int) error {
		v, err := event.Arg(idx)
		if err != nil {
			return err
		}
		fd := int(v)
		fdArg = &fd
		return nil
	}

	switch event.SyscallNr {
	case unix.SYS_CHMOD, unix.SYS_CHOWN, unix.SYS_CHDIR, unix.SYS_RMDIR,
		unix.SYS_USELIB, unix.SYS_SWAPON, unix.SYS_CHROOT,
		unix.SYS_CREAT, // creat == open(O_CREAT|O_WRONLY|O_TRUNC)
		unix.SYS_TRUNCATE:

	case unix.SYS_UNLINK, unix.SYS_MKNOD, unix.SYS_MKDIR, unix.SYS_LCHOWN:
		// These syscalls don't follow symlinks
		skipLastElement = true

	case unix.SYS_UNLINKAT, unix.SYS_MKNODAT, unix.SYS_MKDIRAT:
		if err := setFDArg(0); err != nil {
			return false, err
		}
		skipLastElement = true

	case unix.SYS_OPEN:
		flags, err := event.Arg(1)
		if err != nil {
			return false, err
		}
		if flags&(unix.O_NOFOLLOW|unix.O_EXCL) != 0 {
			skipLastElement = true
		}

	case unix.SYS_OPENAT:
		if err := setFDArg(0); err != nil {
			return false, err
		}
		flags, err := event.Arg(2)
		if err != nil {
			return false, err
		}
		if flags&(unix.O_NOFOLLOW|unix.O_EXCL) != 0 {
			skipLastElement = true
		}

	case unix.SYS_FCHMODAT:
		// fchmodat has a no follow flag, but it's not used
		if err := setFDArg(0); err != nil {
			return false, err
		}

	case unix.SYS_FCHOWNAT:
		if err := setFDArg(0); err != nil {
			return false, err
		}
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if flags&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		if flags&unix.AT_SYMLINK_NOFOLLOW != 0 {
			skipLastElement = true
		}

	case unix.SYS_EXECVEAT:
		if err := setFDArg(0); err != nil {
			return false, err
		}
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if flags&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		if writable, err := fileIsUserWritable(procInfo, path, fdArg); err == nil && writable {
			return true, nil
		}
		if flags&unix.AT_SYMLINK_NOFOLLOW != 0 {
			skipLastElement = true
		}

	case unix.SYS_EXECVE:
		if writable, err := fileIsUserWritable(procInfo, path, nil); err == nil && writable {
			return true, nil
		}

	case unix.SYS_UMOUNT2:
		flags, err := event.Arg(1)
		if err != nil {
			return false, err
		}
		if flags&unix.UMOUNT_NOFOLLOW != 0 {
			skipLastElement = true
		}

	case unix.SYS_NAME_TO_HANDLE_AT:
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if flags&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		if flags&unix.AT_SYMLINK_FOLLOW == 0 {
			skipLastElement = true
		}

	case unix.SYS_RENAME:
		skipLastElement = true
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		if controlled, err := PathIsUserControlledWithLimit(procInfo, filepath.Dir(newPath), nil, maxIterationCount); err == nil && controlled {
			return true, nil
		}

	case unix.SYS_RENAMEAT, unix.SYS_RENAMEAT2:
		skipLastElement = true
		if err := setFDArg(0); err != nil {
			return false, err
		}
		newFD, err := event.Arg(2)
		if err != nil {
			return false, err
		}
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		newDirFD := int(newFD)
		if controlled, err := PathIsUserControlledWithLimit(procInfo, filepath.Dir(newPath), &newDirFD, maxIterationCount); err == nil && controlled {
			return true, nil
		}

	case unix.SYS_LINK:
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		if controlled, err := PathIsUserControlledWithLimit(procInfo, filepath.Dir(newPath), nil, maxIterationCount); err == nil && controlled {
			return true, nil
		}

	case unix.SYS_SYMLINK:
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		if controlled, err := PathIsUserControlledWithLimit(procInfo, filepath.Dir(newPath), nil, maxIterationCount); err == nil && controlled {
			return true, nil
		}
		// no checks on the link target
		return false, nil

	case unix.SYS_LINKAT:
		if err := setFDArg(0); err != nil {
			return false, err
		}
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		newFD, err := event.Arg(2)
		if err != nil {
			return false, err
		}
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		newDirFD := int(newFD)
		if controlled, err := PathIsUserControlledWithLimit(procInfo, filepath.Dir(newPath), &newDirFD, maxIterationCount); err == nil && controlled {
			return true, nil
		}
		if flags&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		if flags&unix.AT_SYMLINK_FOLLOW == 0 {
			skipLastElement = true
		}

	case unix.SYS_SYMLINKAT:
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		newFD, err := event.Arg(1)
		if err != nil {
			return false, err
		}
		newDirFD := int(newFD)
		if controlled, err := PathIsUserControlledWithLimit(procInfo, filepath.Dir(newPath), &newDirFD, maxIterationCount); err == nil && controlled {
			return true, nil
		}
		// no checks on the link target
		return false, nil

	case unix.SYS_MOUNT:
		target, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		flags, err := event.Arg(3)
		if err != nil {
			return false, err
		}
		if controlled, err := PathIsUserControlledWithLimit(procInfo, target, nil, maxIterationCount); err == nil && controlled {
			return true, nil
		}
		if flags&(unix.MS_BIND|unix.MS_MOVE) == 0 {
			// only check the source if MS_BIND or MS_MOVE is set
			return false, nil
		}

	default:
		return false, fmt.Errorf("%w: no support for syscall %d", ErrUnimplemented, event.SyscallNr)
	}

	if skipLastElement {
		path = filepath.Dir(path)
	}

	return PathIsUserControlledWithLimit(procInfo, path, fdArg, maxIterationCount)
}
