// Package snapshot persists and restores startup snapshot blobs (spec.md
// §6 "an opaque byte blob"), brotli-compressed on disk since V8 startup
// snapshots are large and highly compressible bytecode+heap dumps. The
// compressor is the teacher's own dependency, repointed from compressing
// HTTP response bodies (see the teacher's compression.go) onto snapshot
// blobs (SPEC_FULL.md §4.12).
package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"
)

// compressionQuality trades CPU at save time for disk size; snapshots are
// written rarely (once per isolate-host build) and read often, so a high
// quality setting is worth the one-time cost.
const compressionQuality = 9

// Save brotli-compresses blob and writes it to path, replacing any
// existing file atomically via a temp-file rename.
func Save(path string, blob []byte) error {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, compressionQuality)
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("snapshot: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("snapshot: compress: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// Load reads and decompresses the snapshot blob at path.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	blob, err := io.ReadAll(brotli.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompress %s: %w", path, err)
	}
	return blob, nil
}

// Exists reports whether a snapshot file is present at path, so a host
// can decide between a cold compile and a snapshot-warmed isolate.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
