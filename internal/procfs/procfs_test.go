//go:build linux

package procfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdlineSelf(t *testing.T) {
	cmdline := Cmdline(os.Getpid())
	assert.NotEmpty(t, cmdline)
	assert.NotEqual(t, "(unknown)", cmdline)
	assert.NotContains(t, cmdline, "\x00")
}

func TestCmdlineMissingProcess(t *testing.T) {
	assert.Equal(t, "(unknown)", Cmdline(1<<23))
}

func TestSelfCmdlineMatchesPid(t *testing.T) {
	assert.Equal(t, Cmdline(os.Getpid()), SelfCmdline())
}

func TestCwdSelf(t *testing.T) {
	want, err := os.Getwd()
	require.NoError(t, err)

	got, err := Cwd(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCwdMissingProcess(t *testing.T) {
	_, err := Cwd(1 << 23)
	assert.Error(t, err)
}
