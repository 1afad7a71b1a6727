// Package keys stores API keys for text-generation providers.
//
// Keys live in a TOML file (default $XDG_CONFIG_HOME/torunveil/keys.toml)
// keyed by provider name. The environment takes precedence; the store is
// the fallback for users who do not want the key in their shell profile.
//
// TOML format:
//
//	[gemini]
//	key = "AIza..."
//	updated_at = 2025-03-01T12:00:00Z
package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
)

type entry struct {
	Key       string    `toml:"key"`
	UpdatedAt time.Time `toml:"updated_at"`
}

// Store manages API keys keyed by provider.
type Store struct {
	path string
	keys map[string]entry
}

// DefaultPath returns the default key file path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "torunveil", "keys.toml")
}

// Load reads a key file from disk. Returns an empty store if the file does
// not exist yet. Returns an error if path is empty.
func Load(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("key file path is empty (could not determine config directory)")
	}
	s := &Store{path: path, keys: make(map[string]entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read key file %q: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if _, err := toml.Decode(string(data), &s.keys); err != nil {
		return nil, fmt.Errorf("parse key file %q: %w", path, err)
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Get returns the key for provider, or "" if none is stored.
func (s *Store) Get(provider string) string {
	return s.keys[provider].Key
}

// Set stores a key for provider and writes the file.
func (s *Store) Set(provider, key string) error {
	s.keys[provider] = entry{Key: key, UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	return s.save()
}

// Remove deletes the key for provider and writes the file.
func (s *Store) Remove(provider string) error {
	delete(s.keys, provider)
	return s.save()
}

// Providers returns the sorted provider names with a stored key.
func (s *Store) Providers() []string {
	out := make([]string, 0, len(s.keys))
	for p := range s.keys {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Resolve returns the key from the environment variable env when set,
// otherwise the stored key for provider.
func (s *Store) Resolve(provider, env string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if s == nil {
		return ""
	}
	return s.Get(provider)
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open key file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(s.keys); err != nil {
		_ = f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}

// Mask hides all but the last four characters of key.
func Mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Lookup resolves provider's key from env or the default key file. An
// unreadable key file counts as no stored key.
func Lookup(provider, env string) string {
	s, _ := Load(DefaultPath())
	return s.Resolve(provider, env)
}
