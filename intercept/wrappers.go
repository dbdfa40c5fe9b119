//go:build linux && amd64

package intercept

import (
	"golang.org/x/sys/unix"

	pathauditor "github.com/google/path-auditor"
)

// The argument vectors below mirror the kernel's register layout for
// each syscall so the dispatcher finds flags and descriptors at the
// indices it expects. Pointer-valued arguments are passed as zero.

// atFDCWD is unix.AT_FDCWD widened through a variable so the negative
// constant converts to uint64 via runtime two's complement rather than
// tripping the compiler's constant-overflow check.
var atFDCWD = int64(unix.AT_FDCWD)

// Open audits and performs open(2).
func Open(path string, flags int, mode uint32) (int, error) {
	audit(pathauditor.NewFileEvent(unix.SYS_OPEN,
		[]uint64{0, uint64(flags), uint64(mode)}, []string{path}), "open")
	return unix.Open(path, flags, mode)
}

// Openat audits and performs openat(2).
func Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	audit(pathauditor.NewFileEvent(unix.SYS_OPENAT,
		[]uint64{uint64(dirfd), 0, uint64(flags), uint64(mode)}, []string{path}), "openat")
	return unix.Openat(dirfd, path, flags, mode)
}

// Creat audits and performs creat(2), which equals
// open(O_CREAT|O_WRONLY|O_TRUNC).
func Creat(path string, mode uint32) (int, error) {
	flags := unix.O_CREAT | unix.O_WRONLY | unix.O_TRUNC
	audit(pathauditor.NewFileEvent(unix.SYS_OPEN,
		[]uint64{0, uint64(flags), uint64(mode)}, []string{path}), "creat")
	return unix.Open(path, flags, mode)
}

// Chdir audits and performs chdir(2).
func Chdir(path string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_CHDIR, []uint64{0}, []string{path}), "chdir")
	return unix.Chdir(path)
}

// Chmod audits and performs chmod(2).
func Chmod(path string, mode uint32) error {
	audit(pathauditor.NewFileEvent(unix.SYS_CHMOD, []uint64{0, uint64(mode)}, []string{path}), "chmod")
	return unix.Chmod(path, mode)
}

// Fchmodat audits and performs fchmodat(2).
func Fchmodat(dirfd int, path string, mode uint32, flags int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_FCHMODAT,
		[]uint64{uint64(dirfd), 0, uint64(mode), uint64(flags)}, []string{path}), "fchmodat")
	return unix.Fchmodat(dirfd, path, mode, flags)
}

// Chown audits and performs chown(2).
func Chown(path string, uid, gid int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_CHOWN,
		[]uint64{0, uint64(uid), uint64(gid)}, []string{path}), "chown")
	return unix.Chown(path, uid, gid)
}

// Lchown audits and performs lchown(2).
func Lchown(path string, uid, gid int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_LCHOWN,
		[]uint64{0, uint64(uid), uint64(gid)}, []string{path}), "lchown")
	return unix.Lchown(path, uid, gid)
}

// Fchownat audits and performs fchownat(2).
func Fchownat(dirfd int, path string, uid, gid int, flags int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_FCHOWNAT,
		[]uint64{uint64(dirfd), 0, uint64(uid), uint64(gid), uint64(flags)}, []string{path}), "fchownat")
	return unix.Fchownat(dirfd, path, uid, gid, flags)
}

// Truncate audits and performs truncate(2).
func Truncate(path string, length int64) error {
	audit(pathauditor.NewFileEvent(unix.SYS_TRUNCATE,
		[]uint64{0, uint64(length)}, []string{path}), "truncate")
	return unix.Truncate(path, length)
}

// Mkdir audits and performs mkdir(2).
func Mkdir(path string, mode uint32) error {
	audit(pathauditor.NewFileEvent(unix.SYS_MKDIR, []uint64{0, uint64(mode)}, []string{path}), "mkdir")
	return unix.Mkdir(path, mode)
}

// Mkdirat audits and performs mkdirat(2).
func Mkdirat(dirfd int, path string, mode uint32) error {
	audit(pathauditor.NewFileEvent(unix.SYS_MKDIRAT,
		[]uint64{uint64(dirfd), 0, uint64(mode)}, []string{path}), "mkdirat")
	return unix.Mkdirat(dirfd, path, mode)
}

// Rmdir audits and performs rmdir(2). The event is reported as
// unlinkat(AT_FDCWD, path, AT_REMOVEDIR), which is what libc issues.
func Rmdir(path string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_UNLINKAT,
		[]uint64{uint64(atFDCWD), 0, unix.AT_REMOVEDIR}, []string{path}), "rmdir")
	return unix.Rmdir(path)
}

// Unlink audits and performs unlink(2).
func Unlink(path string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_UNLINK, []uint64{0}, []string{path}), "unlink")
	return unix.Unlink(path)
}

// Unlinkat audits and performs unlinkat(2).
func Unlinkat(dirfd int, path string, flags int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_UNLINKAT,
		[]uint64{uint64(dirfd), 0, uint64(flags)}, []string{path}), "unlinkat")
	return unix.Unlinkat(dirfd, path, flags)
}

// Remove audits and removes path, as remove(3): rmdir for directories,
// unlink for everything else.
func Remove(path string) error {
	var sb unix.Stat_t
	if err := unix.Lstat(path, &sb); err == nil && sb.Mode&unix.S_IFMT == unix.S_IFDIR {
		audit(pathauditor.NewFileEvent(unix.SYS_UNLINKAT,
			[]uint64{uint64(atFDCWD), 0, unix.AT_REMOVEDIR}, []string{path}), "remove")
		return unix.Rmdir(path)
	}
	audit(pathauditor.NewFileEvent(unix.SYS_UNLINK, []uint64{0}, []string{path}), "remove")
	return unix.Unlink(path)
}

// Mknod audits and performs mknod(2).
func Mknod(path string, mode uint32, dev int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_MKNOD,
		[]uint64{0, uint64(mode), uint64(dev)}, []string{path}), "mknod")
	return unix.Mknod(path, mode, dev)
}

// Mknodat audits and performs mknodat(2).
func Mknodat(dirfd int, path string, mode uint32, dev int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_MKNODAT,
		[]uint64{uint64(dirfd), 0, uint64(mode), uint64(dev)}, []string{path}), "mknodat")
	return unix.Mknodat(dirfd, path, mode, dev)
}

// Link audits and performs link(2).
func Link(oldpath, newpath string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_LINK, nil, []string{oldpath, newpath}), "link")
	return unix.Link(oldpath, newpath)
}

// Linkat audits and performs linkat(2).
func Linkat(olddirfd int, oldpath string, newdirfd int, newpath string, flags int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_LINKAT,
		[]uint64{uint64(olddirfd), 0, uint64(newdirfd), 0, uint64(flags)},
		[]string{oldpath, newpath}), "linkat")
	return unix.Linkat(olddirfd, oldpath, newdirfd, newpath, flags)
}

// Symlink audits and performs symlink(2). The link target is not
// audited, only the directory the link is created in.
func Symlink(target, linkpath string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_SYMLINK, nil, []string{target, linkpath}), "symlink")
	return unix.Symlink(target, linkpath)
}

// Symlinkat audits and performs symlinkat(2).
func Symlinkat(target string, newdirfd int, linkpath string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_SYMLINKAT,
		[]uint64{0, uint64(newdirfd), 0}, []string{target, linkpath}), "symlinkat")
	return unix.Symlinkat(target, newdirfd, linkpath)
}

// Rename audits and performs rename(2).
func Rename(oldpath, newpath string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_RENAME, nil, []string{oldpath, newpath}), "rename")
	return unix.Rename(oldpath, newpath)
}

// Renameat audits and performs renameat(2).
func Renameat(olddirfd int, oldpath string, newdirfd int, newpath string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_RENAMEAT,
		[]uint64{uint64(olddirfd), 0, uint64(newdirfd), 0},
		[]string{oldpath, newpath}), "renameat")
	return unix.Renameat(olddirfd, oldpath, newdirfd, newpath)
}

// Chroot audits and performs chroot(2).
func Chroot(path string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_CHROOT, []uint64{0}, []string{path}), "chroot")
	return unix.Chroot(path)
}

// Mount audits and performs mount(2).
func Mount(source, target, fstype string, flags uintptr, data string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_MOUNT,
		[]uint64{0, 0, 0, uint64(flags), 0}, []string{source, target}), "mount")
	return unix.Mount(source, target, fstype, flags, data)
}

// Umount audits and performs umount(2).
func Umount(target string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_UMOUNT2, []uint64{0, 0}, []string{target}), "umount")
	return unix.Unmount(target, 0)
}

// Umount2 audits and performs umount2(2).
func Umount2(target string, flags int) error {
	audit(pathauditor.NewFileEvent(unix.SYS_UMOUNT2,
		[]uint64{0, uint64(flags)}, []string{target}), "umount2")
	return unix.Unmount(target, flags)
}

// Exec audits and performs execve(2). On success it does not return.
func Exec(path string, argv []string, envv []string) error {
	audit(pathauditor.NewFileEvent(unix.SYS_EXECVE, []uint64{0, 0, 0}, []string{path}), "execve")
	return unix.Exec(path, argv, envv)
}

// Verdict runs the dispatcher on event under the re-entrancy guard and
// returns the raw result, for callers that want the classification
// without performing the call.
func Verdict(event pathauditor.FileEvent) (bool, error) {
	release, ok := enterAudit()
	if !ok {
		return false, nil
	}
	defer release()
	return pathauditor.FileEventIsUserControlled(procInfo, event)
}
