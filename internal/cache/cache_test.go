package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPutAndGet(t *testing.T) {
	c := New(t.TempDir(), 0)

	e := Entry{
		NodeID: "55.66.77.88",
		Model:  "gemini-2.5-flash",
		Text:   "The exit node sits in a high-risk jurisdiction.\n",
	}
	if err := c.Put("55.66.77.88-abc123", e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get("55.66.77.88-abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached entry, got nil")
	}
	if got.Text != e.Text {
		t.Errorf("text: got %q, want %q", got.Text, e.Text)
	}
	if got.NodeID != e.NodeID || got.Model != e.Model {
		t.Errorf("meta: got %q/%q", got.NodeID, got.Model)
	}
	if got.CachedAt.IsZero() {
		t.Error("cached_at should not be zero")
	}
}

func TestCacheMiss(t *testing.T) {
	c := New(t.TempDir(), 0)

	entry, err := c.Get("nonexistent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry != nil {
		t.Error("expected nil for cache miss")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(t.TempDir(), time.Hour)

	old := Entry{NodeID: "a", Text: "stale", CachedAt: time.Now().Add(-2 * time.Hour)}
	if err := c.Put("old", old); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get("old"); got != nil {
		t.Errorf("expired entry returned: %+v", got)
	}

	fresh := Entry{NodeID: "b", Text: "fresh"}
	if err := c.Put("fresh", fresh); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get("fresh"); got == nil || got.Text != "fresh" {
		t.Errorf("fresh entry = %+v", got)
	}
}

func TestOverwrite(t *testing.T) {
	c := New(t.TempDir(), 0)

	if err := c.Put("k", Entry{Text: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("k", Entry{Text: "second"}); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Get("k")
	if got == nil || got.Text != "second" {
		t.Errorf("got %+v, want second", got)
	}
}

func TestRemove(t *testing.T) {
	c := New(t.TempDir(), 0)
	if err := c.Put("k", Entry{Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove("k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got, _ := c.Get("k"); got != nil {
		t.Error("entry still present after remove")
	}
	if err := c.Remove("k"); err != nil {
		t.Errorf("remove of missing entry: %v", err)
	}
}

func TestCorruptMetaIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 0)
	if err := c.Put("k", Entry{Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "k.md.meta"), []byte("not = [valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("corrupt metadata should read as a miss")
	}
}

func TestKeysStayInsideDir(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 0)

	for _, key := range []string{"../../etc/passwd", "a/b/c", ""} {
		p := c.filePath(key)
		rel, err := filepath.Rel(dir, p)
		if err != nil || strings.HasPrefix(rel, "..") || strings.Contains(rel, string(filepath.Separator)) {
			t.Errorf("key %q maps outside cache dir: %s", key, p)
		}
	}
}

func TestDefaultDir(t *testing.T) {
	if got := DefaultDir(); !strings.Contains(got, "torunveil") {
		t.Errorf("DefaultDir() = %q", got)
	}
}
