//go:build linux && amd64

package pathauditor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testAtFDCWD is unix.AT_FDCWD widened through a variable so the negative
// constant converts to uint64 via runtime two's complement rather than
// tripping the compiler's constant-overflow check.
var testAtFDCWD = int64(unix.AT_FDCWD)

func TestFileEventIsUserControlledUnknownSyscall(t *testing.T) {
	event := NewFileEvent(unix.SYS_GETPID, []uint64{0}, []string{"/etc/passwd"})

	_, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestFileEventIsUserControlledMissingPathArg(t *testing.T) {
	event := NewFileEvent(unix.SYS_OPEN, []uint64{0, 0, 0}, nil)

	_, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileEventIsUserControlledMissingFlagArg(t *testing.T) {
	event := NewFileEvent(unix.SYS_OPEN, nil, []string{"/etc/passwd"})

	_, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileEventIsUserControlledBenignOpen(t *testing.T) {
	requireRootOwnedSystemPath(t, "/etc")
	requireRootOwnedSystemPath(t, "/etc/passwd")

	event := NewFileEvent(unix.SYS_OPEN, []uint64{0, unix.O_RDONLY, 0}, []string{"/etc/passwd"})
	controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	require.NoError(t, err)
	assert.False(t, controlled)
}

func TestFileEventIsUserControlledOpenNofollowSkipsLast(t *testing.T) {
	// With O_NOFOLLOW the trailing component is not dereferenced, so the
	// verdict must match a walk of the parent directory.
	target := filepath.Join(t.TempDir(), "link")

	event := NewFileEvent(unix.SYS_OPEN,
		[]uint64{0, unix.O_RDONLY | unix.O_NOFOLLOW, 0}, []string{target})
	viaEvent, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	require.NoError(t, err)

	viaWalk, err := PathIsUserControlled(SameProcessInformation{}, filepath.Dir(target), nil)
	require.NoError(t, err)

	assert.Equal(t, viaWalk, viaEvent)
}

func TestFileEventIsUserControlledSkipLastEquivalence(t *testing.T) {
	// For syscalls that never follow the trailing symlink the verdict
	// equals the walk of the dirname.
	tests := []struct {
		name  string
		event FileEvent
	}{
		{"unlink", NewFileEvent(unix.SYS_UNLINK, []uint64{0}, []string{"/tmp/pathauditor-test-entry"})},
		{"mkdir", NewFileEvent(unix.SYS_MKDIR, []uint64{0, 0o755}, []string{"/tmp/pathauditor-test-entry"})},
		{"mknod", NewFileEvent(unix.SYS_MKNOD, []uint64{0, 0, 0}, []string{"/tmp/pathauditor-test-entry"})},
		{"lchown", NewFileEvent(unix.SYS_LCHOWN, []uint64{0, 0, 0}, []string{"/tmp/pathauditor-test-entry"})},
	}

	viaWalk, err := PathIsUserControlled(SameProcessInformation{}, "/tmp", nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viaEvent, err := FileEventIsUserControlled(SameProcessInformation{}, tt.event)
			require.NoError(t, err)
			assert.Equal(t, viaWalk, viaEvent)
		})
	}
}

func TestFileEventIsUserControlledEmptyPathWithAtEmptyPath(t *testing.T) {
	tests := []struct {
		name  string
		event FileEvent
	}{
		{"fchownat", NewFileEvent(unix.SYS_FCHOWNAT,
			[]uint64{uint64(testAtFDCWD), 0, 0, 0, unix.AT_EMPTY_PATH}, []string{""})},
		{"name_to_handle_at", NewFileEvent(unix.SYS_NAME_TO_HANDLE_AT,
			[]uint64{uint64(testAtFDCWD), 0, 0, 0, unix.AT_EMPTY_PATH}, []string{""})},
		{"linkat", NewFileEvent(unix.SYS_LINKAT,
			[]uint64{uint64(testAtFDCWD), 0, uint64(testAtFDCWD), 0, unix.AT_EMPTY_PATH},
			[]string{"", "/etc/newlink"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireRootOwnedSystemPath(t, "/etc")
			controlled, err := FileEventIsUserControlled(SameProcessInformation{}, tt.event)
			require.NoError(t, err)
			assert.False(t, controlled)
		})
	}
}

func TestFileEventIsUserControlledRenameAuditsTargetDir(t *testing.T) {
	requireRootOwnedSystemPath(t, "/etc")
	newPath := filepath.Join(t.TempDir(), "x")

	event := NewFileEvent(unix.SYS_RENAME, nil, []string{"/etc/passwd", newPath})
	controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	require.NoError(t, err)

	if os.Geteuid() == 0 {
		assert.False(t, controlled)
	} else {
		// dirname of the rename target is owned by the test user
		assert.True(t, controlled)
	}
}

func TestFileEventIsUserControlledSymlinkIgnoresTarget(t *testing.T) {
	requireRootOwnedSystemPath(t, "/etc")

	// The link target may be anything; only the directory the link is
	// created in is audited.
	event := NewFileEvent(unix.SYS_SYMLINK, nil, []string{"/nonexistent/../../target", "/etc/newlink"})
	controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
	require.NoError(t, err)
	assert.False(t, controlled)
}

func TestFileEventIsUserControlledExecve(t *testing.T) {
	t.Run("root owned binary", func(t *testing.T) {
		requireRootOwnedSystemPath(t, "/etc/passwd")
		event := NewFileEvent(unix.SYS_EXECVE, []uint64{0, 0, 0}, []string{"/etc/passwd"})
		controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
		require.NoError(t, err)
		assert.False(t, controlled)
	})

	t.Run("user writable binary", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("file would be root-owned")
		}
		tool := filepath.Join(t.TempDir(), "tool")
		require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755))

		event := NewFileEvent(unix.SYS_EXECVE, []uint64{0, 0, 0}, []string{tool})
		controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
		require.NoError(t, err)
		assert.True(t, controlled)
	})
}

func TestFileEventIsUserControlledMountGate(t *testing.T) {
	requireRootOwnedSystemPath(t, "/etc")
	userPath := filepath.Join(t.TempDir(), "src")

	t.Run("plain mount ignores source", func(t *testing.T) {
		// Without MS_BIND or MS_MOVE the source is a device or fs name,
		// not a path worth auditing.
		event := NewFileEvent(unix.SYS_MOUNT,
			[]uint64{0, 0, 0, 0, 0}, []string{userPath, "/etc"})
		controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
		require.NoError(t, err)
		assert.False(t, controlled)
	})

	t.Run("bind mount audits source", func(t *testing.T) {
		event := NewFileEvent(unix.SYS_MOUNT,
			[]uint64{0, 0, 0, unix.MS_BIND, 0}, []string{userPath, "/etc"})
		controlled, err := FileEventIsUserControlled(SameProcessInformation{}, event)
		require.NoError(t, err)
		if os.Geteuid() == 0 {
			assert.False(t, controlled)
		} else {
			assert.True(t, controlled)
		}
	})
}

func TestFileEventIsUserControlledUmount2Nofollow(t *testing.T) {
	requireRootOwnedSystemPath(t, "/etc")

	follow := NewFileEvent(unix.SYS_UMOUNT2, []uint64{0, 0}, []string{"/etc/passwd"})
	nofollow := NewFileEvent(unix.SYS_UMOUNT2, []uint64{0, unix.UMOUNT_NOFOLLOW}, []string{"/etc/passwd"})

	followVerdict, err := FileEventIsUserControlled(SameProcessInformation{}, follow)
	require.NoError(t, err)
	nofollowVerdict, err := FileEventIsUserControlled(SameProcessInformation{}, nofollow)
	require.NoError(t, err)

	// both walks stay inside root-owned directories
	assert.False(t, followVerdict)
	assert.False(t, nofollowVerdict)
}

func TestFileEventIsUserControlledVerdictIsStable(t *testing.T) {
	event := NewFileEvent(unix.SYS_OPEN, []uint64{0, unix.O_RDONLY, 0},
		[]string{filepath.Join(t.TempDir(), "x")})

	first, err1 := FileEventIsUserControlled(SameProcessInformation{}, event)
	second, err2 := FileEventIsUserControlled(SameProcessInformation{}, event)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
}
