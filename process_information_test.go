//go:build linux

package pathauditor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// statFD returns the identity of the inode behind fd.
func statFD(t *testing.T, fd int) (uint64, uint64) {
	t.Helper()
	var sb unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &sb))
	return sb.Dev, sb.Ino
}

func statPath(t *testing.T, path string) (uint64, uint64) {
	t.Helper()
	var sb unix.Stat_t
	require.NoError(t, unix.Stat(path, &sb))
	return sb.Dev, sb.Ino
}

func TestSameProcessInformationRootFD(t *testing.T) {
	fd, err := SameProcessInformation{}.RootFD(unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(fd)

	fdDev, fdIno := statFD(t, fd)
	dev, ino := statPath(t, "/")
	assert.Equal(t, dev, fdDev)
	assert.Equal(t, ino, fdIno)
}

func TestSameProcessInformationCwdFD(t *testing.T) {
	fd, err := SameProcessInformation{}.CwdFD(unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(fd)

	fdDev, fdIno := statFD(t, fd)
	dev, ino := statPath(t, ".")
	assert.Equal(t, dev, fdDev)
	assert.Equal(t, ino, fdIno)
}

func TestSameProcessInformationDupDirFD(t *testing.T) {
	orig, err := unix.Open("/etc", unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(orig)

	dup, err := SameProcessInformation{}.DupDirFD(orig, unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(dup)

	origDev, origIno := statFD(t, orig)
	dupDev, dupIno := statFD(t, dup)
	assert.Equal(t, origDev, dupDev)
	assert.Equal(t, origIno, dupIno)
}

func TestRemoteProcessInformationOwnPid(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	procInfo := NewRemoteProcessInformation(os.Getpid(), cwd, "", false)

	t.Run("root", func(t *testing.T) {
		fd, err := procInfo.RootFD(unix.O_RDONLY)
		require.NoError(t, err)
		defer unix.Close(fd)

		fdDev, fdIno := statFD(t, fd)
		dev, ino := statPath(t, "/")
		assert.Equal(t, dev, fdDev)
		assert.Equal(t, ino, fdIno)
	})

	t.Run("cwd", func(t *testing.T) {
		fd, err := procInfo.CwdFD(unix.O_RDONLY)
		require.NoError(t, err)
		defer unix.Close(fd)

		fdDev, fdIno := statFD(t, fd)
		dev, ino := statPath(t, cwd)
		assert.Equal(t, dev, fdDev)
		assert.Equal(t, ino, fdIno)
	})

	t.Run("dup dir fd", func(t *testing.T) {
		orig, err := unix.Open("/etc", unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer unix.Close(orig)

		dup, err := procInfo.DupDirFD(orig, unix.O_RDONLY)
		require.NoError(t, err)
		defer unix.Close(dup)

		origDev, origIno := statFD(t, orig)
		dupDev, dupIno := statFD(t, dup)
		assert.Equal(t, origDev, dupDev)
		assert.Equal(t, origIno, dupIno)
	})
}

func TestRemoteProcessInformationMissingProcess(t *testing.T) {
	// A pid beyond the default pid_max never exists.
	const bogusPid = 1 << 23

	t.Run("without fallback", func(t *testing.T) {
		procInfo := NewRemoteProcessInformation(bogusPid, "/", "", false)
		_, err := procInfo.RootFD(unix.O_RDONLY)
		assert.ErrorIs(t, err, ErrFailedPrecondition)
	})

	t.Run("with fallback", func(t *testing.T) {
		procInfo := NewRemoteProcessInformation(bogusPid, "/", "", true)

		fd, err := procInfo.RootFD(unix.O_RDONLY)
		require.NoError(t, err)
		defer unix.Close(fd)

		fdDev, fdIno := statFD(t, fd)
		dev, ino := statPath(t, "/")
		assert.Equal(t, dev, fdDev)
		assert.Equal(t, ino, fdIno)
	})

	t.Run("cwd with fallback", func(t *testing.T) {
		procInfo := NewRemoteProcessInformation(bogusPid, "/etc", "", true)

		fd, err := procInfo.CwdFD(unix.O_RDONLY)
		require.NoError(t, err)
		defer unix.Close(fd)

		fdDev, fdIno := statFD(t, fd)
		dev, ino := statPath(t, "/etc")
		assert.Equal(t, dev, fdDev)
		assert.Equal(t, ino, fdIno)
	})
}

func TestRemoteProcessInformationAccessors(t *testing.T) {
	procInfo := NewRemoteProcessInformation(42, "/work", "daemon --flag", true)
	assert.Equal(t, 42, procInfo.Pid())
	assert.Equal(t, "/work", procInfo.Cwd())
	assert.Equal(t, "daemon --flag", procInfo.Cmdline())
}
