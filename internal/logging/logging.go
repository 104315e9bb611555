// Package logging configures log/slog for proctree binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// Format selects the slog handler.
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatJournal Format = "journal"
)

// ParseFormat parses text, json or journal.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatJournal:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown log format %q (want text, json or journal)", s)
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Options configures New.
type Options struct {
	Level  string
	Format string
	// Writer receives text and json output. Defaults to os.Stderr.
	Writer io.Writer
	// JournalSocket overrides the journald socket for the journal format.
	JournalSocket string
}

// New builds a logger. The journal format falls back to text on Writer
// when journald is not reachable.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: level}

	switch format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, ho)), nil
	case FormatJournal:
		if opts.JournalSocket != "" {
			journal.SetSocketPath(opts.JournalSocket)
		}
		if journal.Enabled() {
			return slog.New(NewJournalHandler(level, journal.Send)), nil
		}
	}
	return slog.New(slog.NewTextHandler(w, ho)), nil
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}
