// Package logging wires the core's structured logging: a tint-colorized
// slog.Handler for interactive hosts, matching the retrieval pack's
// jtarchie-ci CLI setup, substituted here for the teacher's bare
// log.Printf call sites (isolate lifecycle, op registration, unhandled
// rejections — SPEC_FULL.md §4.7).
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// New builds a slog.Logger writing tint-colorized, timestamped records to
// w. Pass os.Stderr for an interactive host.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
}

// Discard is the test-time logger: every record is dropped so `go test
// -v` output stays free of isolate lifecycle noise.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Default returns the process-wide logger for hosts that never call New
// explicitly, writing info-and-above to stderr.
func Default() *slog.Logger {
	return New(os.Stderr, slog.LevelInfo)
}
