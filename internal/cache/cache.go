// Package cache stores node assessments on the local filesystem so repeat
// inspections of an unchanged node do not call the text-generation service.
package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Cache stores assessments under Dir, one markdown body plus a TOML
// metadata file per key.
type Cache struct {
	Dir string
	// TTL bounds the age of entries returned by Get. Zero keeps entries forever.
	TTL time.Duration
}

// Entry is a cached assessment with metadata about when it was stored.
type Entry struct {
	NodeID   string
	Model    string
	Text     string
	CachedAt time.Time
}

// meta is the TOML-serializable cache metadata.
type meta struct {
	NodeID   string    `toml:"node_id"`
	Model    string    `toml:"model"`
	CachedAt time.Time `toml:"cached_at"`
}

// New creates a cache rooted at the given directory.
func New(dir string, ttl time.Duration) *Cache {
	return &Cache{Dir: dir, TTL: ttl}
}

// DefaultDir returns the per-user cache directory for assessments.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "torunveil")
	}
	return filepath.Join(dir, "torunveil", "assessments")
}

// Put writes an assessment to the cache.
func (c *Cache) Put(key string, e Entry) error {
	filePath := c.filePath(key)
	metaPath := filePath + ".meta"

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filePath, []byte(e.Text), 0o644); err != nil {
		return err
	}

	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now().UTC()
	}
	m := meta{NodeID: e.NodeID, Model: e.Model, CachedAt: cachedAt}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}
	return os.WriteFile(metaPath, buf.Bytes(), 0o644)
}

// Get reads a cached assessment. Returns nil if not cached, if the metadata
// is unreadable, or if the entry is older than the TTL.
func (c *Cache) Get(key string) (*Entry, error) {
	filePath := c.filePath(key)
	metaPath := filePath + ".meta"

	body, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m meta
	if _, err := toml.DecodeFile(metaPath, &m); err != nil {
		return nil, nil
	}
	if c.TTL > 0 && time.Since(m.CachedAt) > c.TTL {
		return nil, nil
	}

	return &Entry{
		NodeID:   m.NodeID,
		Model:    m.Model,
		Text:     string(body),
		CachedAt: m.CachedAt,
	}, nil
}

// Remove deletes a cached entry. Missing entries are not an error.
func (c *Cache) Remove(key string) error {
	filePath := c.filePath(key)
	for _, p := range []string{filePath, filePath + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// filePath maps a key to a file under Dir. Path separators and parent
// references are neutralised so keys cannot escape the cache directory.
func (c *Cache) filePath(key string) string {
	safe := strings.ReplaceAll(key, "..", "_")
	safe = strings.ReplaceAll(safe, "/", "_")
	safe = strings.ReplaceAll(safe, string(filepath.Separator), "_")
	if safe == "" {
		safe = "_"
	}
	return filepath.Join(c.Dir, safe+".md")
}
