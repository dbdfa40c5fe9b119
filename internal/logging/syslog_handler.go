//go:build linux

package logging

import (
	"context"
	"fmt"
	"log/syslog"
	"strings"
	"sync"

	"log/slog"
)

// syslogHandler is a slog.Handler that forwards records to the system
// log. Records at warn and above map to LOG_WARNING, everything else
// to LOG_INFO.
type syslogHandler struct {
	mu     *sync.Mutex
	writer *syslog.Writer
	attrs  []slog.Attr
	groups []string
}

func newSyslogHandler(tag string) (*syslogHandler, error) {
	w, err := syslog.New(syslog.LOG_WARNING|syslog.LOG_USER, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to open syslog: %w", err)
	}
	return &syslogHandler{mu: &sync.Mutex{}, writer: w}, nil
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)

	appendAttr := func(a slog.Attr) {
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		fmt.Fprintf(&sb, ", %s %s", key, a.Value.String())
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Level >= slog.LevelWarn {
		return h.writer.Warning(sb.String())
	}
	return h.writer.Info(sb.String())
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.groups = append(append([]string(nil), h.groups...), name)
	return &nh
}
