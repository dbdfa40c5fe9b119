//go:build linux

package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyslogHandlerLevels(t *testing.T) {
	h, err := newSyslogHandler("pathauditor-test")
	if err != nil {
		t.Skipf("syslog unavailable: %v", err)
	}

	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestSyslogHandlerWithAttrsIsIndependent(t *testing.T) {
	h, err := newSyslogHandler("pathauditor-test")
	if err != nil {
		t.Skipf("syslog unavailable: %v", err)
	}

	derived := h.WithAttrs([]slog.Attr{slog.String("component", "walker")}).(*syslogHandler)
	assert.Len(t, derived.attrs, 1)
	assert.Empty(t, h.attrs)

	grouped := h.WithGroup("audit").(*syslogHandler)
	assert.Equal(t, []string{"audit"}, grouped.groups)
	assert.Empty(t, h.groups)
}
