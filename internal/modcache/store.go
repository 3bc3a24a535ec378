// Package modcache persists compiled-module records across process
// restarts, backing the module loader's fast path described in
// SPEC_FULL.md §4.11. It is a durable front for the content-hash
// versioning spec.md §3 already assigns every Module — restarting a host
// process with an unchanged module tree should not force a recompile.
package modcache

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cryguy/opcore/internal/core"
)

// record is the gorm model backing the on-disk cache table.
type record struct {
	Specifier          string `gorm:"primaryKey"`
	Hash               string `gorm:"index"`
	MediaType          int
	Source             []byte
	LastInstantiatedAt time.Time
}

func (record) TableName() string { return "modules" }

// Store is a SQLite-backed cache of compiled-module source, keyed by
// absolute specifier and validated against the stored content hash.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the cache database at path. Passing
// ":memory:" yields a process-local cache useful for tests and for hosts
// that don't want persistence.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Lookup returns the cached source for specifier if its stored content
// hash matches wantHash — a mismatch means the module changed since it was
// cached, and the caller should fall through to the host loader.
func (s *Store) Lookup(specifier, wantHash string) (*core.LoadedSource, bool) {
	var rec record
	if err := s.db.First(&rec, "specifier = ?", specifier).Error; err != nil {
		return nil, false
	}
	if rec.Hash != wantHash {
		return nil, false
	}
	return &core.LoadedSource{
		Source:    rec.Source,
		MediaType: core.MediaType(rec.MediaType),
		Hash:      rec.Hash,
	}, true
}

// Put records (or refreshes) the cached source for a module, stamping the
// current instantiation time.
func (s *Store) Put(specifier string, src *core.LoadedSource, now time.Time) error {
	rec := record{
		Specifier:          specifier,
		Hash:               src.Hash,
		MediaType:          int(src.MediaType),
		Source:             src.Source,
		LastInstantiatedAt: now,
	}
	return s.db.Save(&rec).Error
}

// Evict removes a cached module, e.g. when the host loader reports it no
// longer exists.
func (s *Store) Evict(specifier string) error {
	return s.db.Delete(&record{}, "specifier = ?", specifier).Error
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
