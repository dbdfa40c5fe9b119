//go:build linux

package pathauditor

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultMaxIterationCount bounds the number of path components a
// single walk processes. Components substituted in from symlink
// targets count against it, so it terminates symlink loops.
const DefaultMaxIterationCount = 40

// O_PATH is not enough since we want to check the immutable flag and
// the ioctl fails with an O_PATH file descriptor.
const dirOpenFlags = unix.O_RDONLY

// fsImmutableFL is FS_IMMUTABLE_FL from include/uapi/linux/fs.h; it is
// not exported by golang.org/x/sys/unix.
const fsImmutableFL = 0x00000010

// dirCursor owns the single directory descriptor a walk holds open.
// Replace closes the held descriptor before installing the new one;
// Close releases it on every exit path.
type dirCursor struct {
	fd int
}

func (c *dirCursor) Replace(newFD int) {
	unix.Close(c.fd)
	c.fd = newFD
}

func (c *dirCursor) Close() {
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
}

func fdIsImmutable(fd int) (bool, error) {
	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		if errors.Is(err, unix.ENOTTY) {
			// the filesystem doesn't support the flag
			return false, nil
		}
		return false, fmt.Errorf("%w: ioctl(FS_IOC_GETFLAGS) failed: %v", ErrFailedPrecondition, err)
	}
	return flags&fsImmutableFL != 0, nil
}

func resolveDirFD(procInfo ProcessInformation, path string, atFD *int) (int, error) {
	switch {
	case strings.HasPrefix(path, "/"):
		return procInfo.RootFD(dirOpenFlags)
	case atFD == nil || *atFD == unix.AT_FDCWD:
		return procInfo.CwdFD(dirOpenFlags)
	default:
		return procInfo.DupDirFD(*atFD, dirOpenFlags)
	}
}

// splitPath breaks a path into its components, discarding empty ones.
func splitPath(path string) []string {
	var elems []string
	for _, e := range strings.Split(path, "/") {
		if e != "" {
			elems = append(elems, e)
		}
	}
	return elems
}

// fileIsUserWritable reports whether the file could be written to by an
// unprivileged user. Used for the exec family, where a user-writable
// binary is unsafe regardless of the path leading to it.
func fileIsUserWritable(procInfo ProcessInformation, file string, atFD *int) (bool, error) {
	dirFD, err := resolveDirFD(procInfo, file, atFD)
	if err != nil {
		return false, err
	}
	defer unix.Close(dirFD)

	var sb unix.Stat_t
	if err := unix.Fstatat(dirFD, file, &sb, 0); err != nil {
		if !errors.Is(err, unix.ENOENT) {
			return false, fmt.Errorf("%w: couldn't fstatat %q: %v", ErrFailedPrecondition, file, err)
		}
		// The file doesn't exist so it's not writable
		return false, nil
	}

	if sb.Mode&unix.S_IFMT != unix.S_IFREG {
		return false, nil
	}
	if sb.Uid != 0 {
		return true, nil
	}
	if (sb.Gid != 0 && sb.Mode&unix.S_IWGRP != 0) || sb.Mode&unix.S_IWOTH != 0 {
		return true, nil
	}

	return false, nil
}

// componentIsUserControlled decides whether the entry elem of the
// directory dirFD could be replaced by an unprivileged user.
func componentIsUserControlled(dirFD int, elem string) (bool, error) {
	// Filter out special files
	if elem == "." || elem == ".." {
		return false, nil
	}

	// if either the dir or the entry are immutable the access is safe
	dirImmutable, err := fdIsImmutable(dirFD)
	if err != nil {
		return false, err
	}
	if dirImmutable {
		return false, nil
	}

	entryFD, err := unix.Openat(dirFD, elem, unix.O_RDONLY, 0)
	if err != nil {
		if !errors.Is(err, unix.ENOENT) {
			return false, fmt.Errorf("%w: couldn't open %q for immutable check: %v", ErrFailedPrecondition, elem, err)
		}
	} else {
		entryImmutable, ierr := fdIsImmutable(entryFD)
		unix.Close(entryFD)
		if ierr != nil {
			return false, ierr
		}
		if entryImmutable {
			return false, nil
		}
	}

	var fsBuf unix.Statfs_t
	if err := unix.Fstatfs(dirFD, &fsBuf); err != nil {
		return false, fmt.Errorf("%w: fstatfs(dir_fd) failed: %v", ErrFailedPrecondition, err)
	}

	// entries on proc and cgroup filesystems are kernel-synthesised and
	// can't be replaced by a user
	switch fsBuf.Type {
	case unix.PROC_SUPER_MAGIC, unix.CGROUP_SUPER_MAGIC, unix.CGROUP2_SUPER_MAGIC:
		return false, nil
	}

	var sb unix.Stat_t
	if err := unix.Fstat(dirFD, &sb); err != nil {
		return false, fmt.Errorf("%w: fstat(dir_fd) failed: %v", ErrFailedPrecondition, err)
	}

	// non-root owner
	if sb.Uid != 0 {
		return true, nil
	}

	// root owned dir that is writable by a user
	if (sb.Gid != 0 && sb.Mode&unix.S_IWGRP != 0) || sb.Mode&unix.S_IWOTH != 0 {
		// if not sticky the entry is controlled
		if sb.Mode&unix.S_ISVTX == 0 {
			return true, nil
		}

		// For sticky dirs you can only replace an entry if you own the
		// directory or the entry itself. The directory is root-owned
		// (checked above), which leaves the cases where the entry is
		// user-owned or doesn't exist yet.
		var entrySb unix.Stat_t
		if err := unix.Fstatat(dirFD, elem, &entrySb, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if !errors.Is(err, unix.ENOENT) {
				return false, fmt.Errorf("%w: couldn't fstatat %q: %v", ErrFailedPrecondition, elem, err)
			}
			// The entry doesn't exist but it could be created by a user
			return true, nil
		}
		if entrySb.Uid != 0 {
			return true, nil
		}
	}

	return false, nil
}

// PathIsUserControlled reports whether any component of path, resolved
// in the filesystem view of procInfo, could be substituted by an
// unprivileged user. atFD overrides the starting directory for
// relative paths; pass nil (or a pointer to unix.AT_FDCWD) to start at
// the process's working directory.
//
// The algorithm is roughly:
//   - keep a fd open to the current directory we're in
//     (absolute path => root fd, AT_FDCWD => cwd fd)
//   - iterate over the path segments
//   - dir => check perms and enter
//   - relative link => prepend target to remaining path
//   - absolute link => prepend target and start over at /
func PathIsUserControlled(procInfo ProcessInformation, path string, atFD *int) (bool, error) {
	return PathIsUserControlledWithLimit(procInfo, path, atFD, DefaultMaxIterationCount)
}

// PathIsUserControlledWithLimit is PathIsUserControlled with an
// explicit iteration cap.
func PathIsUserControlledWithLimit(procInfo ProcessInformation, path string, atFD *int, maxIterationCount int) (bool, error) {
	dirFD, err := resolveDirFD(procInfo, path, atFD)
	if err != nil {
		return false, err
	}
	cur := &dirCursor{fd: dirFD}
	defer cur.Close()

	pathQueue := splitPath(path)

	for i := 0; i < maxIterationCount; i++ {
		if len(pathQueue) == 0 {
			return false, nil
		}

		elem := pathQueue[0]
		pathQueue = pathQueue[1:]

		if elem == "." {
			continue
		}

		// Check if the next path element is user controlled
		unsafeAccess, err := componentIsUserControlled(cur.fd, elem)
		if err != nil {
			return false, err
		}
		if unsafeAccess {
			return true, nil
		}

		// Check if the element actually exists. This has to come after
		// componentIsUserControlled since a non-existent entry could still
		// be created by a user if the directory is writable.
		var sb unix.Stat_t
		if err := unix.Fstatat(cur.fd, elem, &sb, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if errors.Is(err, unix.ENOENT) {
				return false, nil
			}
			return false, fmt.Errorf("%w: could not stat path element %q: %v", ErrFailedPrecondition, elem, err)
		}

		// Symlinks in /proc are magic. If the entry is a symlink and the
		// current directory is on proc, follow it in the stat call instead.
		if sb.Mode&unix.S_IFMT == unix.S_IFLNK {
			var fsBuf unix.Statfs_t
			if err := unix.Fstatfs(cur.fd, &fsBuf); err != nil {
				return false, fmt.Errorf("%w: fstatfs(dir_fd) failed: %v", ErrFailedPrecondition, err)
			}
			if fsBuf.Type == unix.PROC_SUPER_MAGIC {
				if err := unix.Fstatat(cur.fd, elem, &sb, 0); err != nil {
					return false, fmt.Errorf("%w: could not stat path element %q without nofollow: %v", ErrFailedPrecondition, elem, err)
				}
			}
		}

		switch sb.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			// Change into the directory
			newFD, err := unix.Openat(cur.fd, elem, dirOpenFlags, 0)
			if err != nil {
				return false, fmt.Errorf("%w: couldn't openat next elem %q: %v", ErrFailedPrecondition, elem, err)
			}
			cur.Replace(newFD)
		case unix.S_IFLNK:
			// Read the link and prepend the target to the path queue
			linkBuf := make([]byte, unix.PathMax)
			n, err := unix.Readlinkat(cur.fd, elem, linkBuf)
			if err != nil {
				return false, fmt.Errorf("%w: could not read link for path element %q: %v", ErrFailedPrecondition, elem, err)
			}
			if n >= len(linkBuf) {
				return false, fmt.Errorf("%w: link target of %q is larger than PATH_MAX", ErrFailedPrecondition, elem)
			}
			target := string(linkBuf[:n])

			// If the target is absolute, change to /
			if strings.HasPrefix(target, "/") {
				rootFD, err := procInfo.RootFD(dirOpenFlags)
				if err != nil {
					return false, err
				}
				cur.Replace(rootFD)
			}
			pathQueue = append(splitPath(target), pathQueue...)
		default:
			if len(pathQueue) != 0 {
				return false, fmt.Errorf("%w: non-directory in middle of path", ErrFailedPrecondition)
			}
			return false, nil
		}
	}

	return false, fmt.Errorf("%w: ran into max iteration count %d", ErrResourceExhausted, maxIterationCount)
}
