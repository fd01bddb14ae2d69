// Package creds obtains and persists trading API credentials for an EOA.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Credentials authorize programmatic order placement. They are distinct from
// any on-chain signing key.
type Credentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Store is durable per-EOA credential persistence backed by a single JSON
// file. Keys are lowercased EOA addresses; entries never expire.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Credentials
	loaded  bool
}

// NewStore creates a store at the given file path. The file is created lazily
// on the first Put.
func NewStore(path string) *Store {
	return &Store{path: path, entries: make(map[string]Credentials)}
}

// DefaultStorePath returns the terminal's credential file under the user
// config directory.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "rekon", "credentials.json"), nil
}

// Get returns the credentials cached for eoa. A miss is reported via ok, not
// an error.
func (s *Store) Get(eoa string) (Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return Credentials{}, false, err
	}
	c, ok := s.entries[strings.ToLower(eoa)]
	return c, ok, nil
}

// Put persists credentials for eoa, replacing any previous entry. The write
// is atomic: the file is fully written to a temp path, then renamed.
func (s *Store) Put(eoa string, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	s.entries[strings.ToLower(eoa)] = c
	return s.flush()
}

func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credential store: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("parse credential store: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credential store: %w", err)
	}
	return nil
}
