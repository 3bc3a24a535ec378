package modcache

import (
	"testing"
	"time"

	"github.com/cryguy/opcore/internal/core"
)

func TestPutThenLookupRoundTrips(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	src := &core.LoadedSource{Source: []byte("export default 1;"), MediaType: core.MediaJS, Hash: "abc123"}
	if err := s.Put("file:///main.js", src, time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := s.Lookup("file:///main.js", "abc123")
	if !ok {
		t.Fatalf("Lookup miss after Put")
	}
	if string(got.Source) != string(src.Source) || got.MediaType != src.MediaType {
		t.Fatalf("Lookup returned %+v, want %+v", got, src)
	}
}

func TestLookupMissesOnHashMismatch(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	src := &core.LoadedSource{Source: []byte("v1"), MediaType: core.MediaJS, Hash: "hash-v1"}
	_ = s.Put("file:///m.js", src, time.Now())

	if _, ok := s.Lookup("file:///m.js", "hash-v2"); ok {
		t.Fatalf("Lookup succeeded with stale hash")
	}
}

func TestLookupMissesOnUnknownSpecifier(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Lookup("file:///never-put.js", "anything"); ok {
		t.Fatalf("Lookup succeeded for unknown specifier")
	}
}

func TestEvictRemovesEntry(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	src := &core.LoadedSource{Source: []byte("v1"), MediaType: core.MediaJS, Hash: "h1"}
	_ = s.Put("file:///m.js", src, time.Now())
	if err := s.Evict("file:///m.js"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok := s.Lookup("file:///m.js", "h1"); ok {
		t.Fatalf("Lookup succeeded after Evict")
	}
}

type fakeLoader struct {
	loads map[string]*core.LoadedSource
	calls int
}

func (f *fakeLoader) Resolve(specifier, referrer string) (string, error) { return specifier, nil }
func (f *fakeLoader) Load(specifier string) (*core.LoadedSource, error) {
	f.calls++
	src := f.loads[specifier]
	cp := *src
	return &cp, nil
}

func TestCachingLoaderCachesAcrossOpens(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fl := &fakeLoader{loads: map[string]*core.LoadedSource{
		"m.js": {Source: []byte("x"), MediaType: core.MediaJS, Hash: "h1"},
	}}
	cl := NewCachingLoader(fl, s, nil)

	if _, err := cl.Load("m.js"); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if _, err := cl.Load("m.js"); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if fl.calls != 2 {
		t.Fatalf("underlying loader called %d times, want 2 (host loader always consulted for the current hash)", fl.calls)
	}

	stale, ok := cl.LookupStale("m.js")
	if !ok {
		t.Fatalf("LookupStale miss after caching Load")
	}
	if string(stale.Source) != "x" {
		t.Fatalf("LookupStale source = %q, want %q", stale.Source, "x")
	}
}
