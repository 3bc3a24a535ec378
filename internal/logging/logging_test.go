package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWritesRecordsToWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)
	log.Info("isolate created", "site", "worker-1", "rid", 7)

	out := buf.String()
	if !strings.Contains(out, "isolate created") {
		t.Fatalf("log output missing message: %q", out)
	}
	if !strings.Contains(out, "site=worker-1") {
		t.Fatalf("log output missing structured field: %q", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)
	log.Info("should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("info record written despite warn level: %q", buf.String())
	}
}

func TestDiscardProducesNoOutput(t *testing.T) {
	log := Discard()
	log.Info("noisy event", "op", "op_fetch")
}
