package snapshot

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "isolate.snap")

	blob := bytes.Repeat([]byte("v8-startup-data"), 1024)
	if err := Save(path, blob); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(blob))
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "isolate.snap")

	if Exists(path) {
		t.Fatalf("Exists true before Save")
	}
	if err := Save(path, []byte("data")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(path) {
		t.Fatalf("Exists false after Save")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.snap")); err == nil {
		t.Fatalf("expected error loading missing snapshot")
	}
}
