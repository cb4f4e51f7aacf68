// Package auth stores provider credentials in a dedicated file outside the
// regular config, so API keys and OAuth tokens never round-trip through
// config.load/config.save: those paths only ever see non-secret settings,
// and this package is the sole place that reads or writes the real values.
package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Provider holds one provider's stored credential. Exactly one of APIKey or
// the OAuth fields is normally populated, selected by Type.
type Provider struct {
	Type    string `json:"type,omitempty"` // "api" (default) or "oauth"
	APIKey  string `json:"apiKey,omitempty"`
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Expires int64  `json:"expires,omitempty"` // unix millis, 0 = no expiry
}

// file is the on-disk shape of the auth store.
type file struct {
	Providers map[string]Provider `json:"providers"`
}

// Store is a file-backed credential store, guarded by an in-process mutex
// and written atomically (temp file + rename) like internal/storage.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by the file at path (typically
// config.Paths.AuthPath()).
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (*file, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &file{Providers: make(map[string]Provider)}, nil
		}
		return nil, err
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Providers == nil {
		f.Providers = make(map[string]Provider)
	}
	return &f, nil
}

func (s *Store) save(f *file) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns the stored credential for a provider, if any.
func (s *Store) Get(providerID string) (Provider, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return Provider{}, false, err
	}
	p, ok := f.Providers[providerID]
	return p, ok, nil
}

// Set writes (or replaces) the credential for a provider.
func (s *Store) Set(providerID string, p Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	f.Providers[providerID] = p
	return s.save(f)
}

// Remove deletes a provider's stored credential, if present.
func (s *Store) Remove(providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	delete(f.Providers, providerID)
	return s.save(f)
}

// Connected reports which providers have a stored credential, without
// exposing the credential values themselves.
func (s *Store) Connected() (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(f.Providers))
	for id, p := range f.Providers {
		out[id] = p.APIKey != "" || p.Access != ""
	}
	return out, nil
}
