package logging

import (
	"context"
	"log/slog"
	"maps"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// SendFunc delivers one journal entry. journal.Send satisfies it.
type SendFunc func(message string, priority journal.Priority, vars map[string]string) error

// JournalHandler is a slog.Handler that writes each record as a journald
// entry. Attributes become fields named after the attribute key, upper-cased,
// with groups joined by underscores: "child" -> CHILD, "tree.depth" -> TREE_DEPTH.
type JournalHandler struct {
	level  slog.Leveler
	send   SendFunc
	fields map[string]string
	group  string
}

var _ slog.Handler = (*JournalHandler)(nil)

// NewJournalHandler returns a handler that sends records at or above level.
func NewJournalHandler(level slog.Leveler, send SendFunc) *JournalHandler {
	return &JournalHandler{
		level:  level,
		send:   send,
		fields: map[string]string{"SYSLOG_IDENTIFIER": "proctree"},
	}
}

func (h *JournalHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := maps.Clone(h.fields)
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, h.group, a)
		return true
	})
	return h.send(r.Message, Priority(r.Level), fields)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.fields = maps.Clone(h.fields)
	for _, a := range attrs {
		addAttr(nh.fields, h.group, a)
	}
	return &nh
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.group = joinKey(h.group, name)
	return &nh
}

// Priority maps a slog level onto a syslog priority.
func Priority(l slog.Level) journal.Priority {
	switch {
	case l >= slog.LevelError:
		return journal.PriErr
	case l >= slog.LevelWarn:
		return journal.PriWarning
	case l >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addAttr(fields map[string]string, group string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	if v.Kind() == slog.KindGroup {
		g := joinKey(group, a.Key)
		for _, ga := range v.Group() {
			addAttr(fields, g, ga)
		}
		return
	}
	fields[FieldName(joinKey(group, a.Key))] = v.String()
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	if key == "" {
		return group
	}
	return group + "." + key
}

// FieldName turns an attribute key into a valid journal field name:
// upper-case letters, digits and underscores, not starting with an
// underscore or a digit.
func FieldName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), "_")
	if name == "" {
		return "FIELD"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "F" + name
	}
	return name
}

