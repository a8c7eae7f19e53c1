package config

import "sync/atomic"

// Store publishes configuration snapshots to the processing loop.
//
// The loop reads one snapshot per frame and never sees a torn update: an
// external control surface replaces the whole snapshot atomically, it never
// mutates a published one.
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore creates a store seeded with the given configuration.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.Replace(cfg)
	return s
}

// Snapshot returns the current configuration. The returned value is shared
// and must be treated as read-only.
func (s *Store) Snapshot() *Config {
	return s.ptr.Load()
}

// Replace swaps in a new configuration. The argument is copied so later
// caller-side mutation cannot leak into the published snapshot.
func (s *Store) Replace(cfg *Config) {
	c := *cfg
	s.ptr.Store(&c)
}
