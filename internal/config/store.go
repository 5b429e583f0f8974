package config

import (
	"fmt"
	"sync/atomic"
)

// Store holds the current configuration snapshot for a config file.
// Snapshots handed out are never mutated; Reload swaps in a new one.
type Store struct {
	path    string
	current atomic.Pointer[Config]
}

// NewStore loads path and returns a Store positioned at that snapshot.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStoreFrom(path, cfg), nil
}

// NewStoreFrom wraps an already loaded configuration.
func NewStoreFrom(path string, cfg *Config) *Store {
	s := &Store{path: path}
	s.current.Store(cfg.Snapshot())
	return s
}

// Path returns the config file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Current returns the active snapshot.
func (s *Store) Current() *Config {
	return s.current.Load().Snapshot()
}

// Reload re-reads the config file. On failure the previous snapshot stays
// active and the error is returned.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}
	s.current.Store(cfg.Snapshot())
	return cfg.Snapshot(), nil
}
