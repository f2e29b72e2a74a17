package hub

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCache_TTL(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "nested", "cache.db"), 300*time.Second)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	if err := cache.Put("model:org/a", []byte(`{"sha":"abc"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if data, ok := cache.Get("model:org/a"); !ok || string(data) != `{"sha":"abc"}` {
		t.Errorf("Expected fresh entry, got %q ok=%v", data, ok)
	}

	now = now.Add(299 * time.Second)
	if _, ok := cache.Get("model:org/a"); !ok {
		t.Error("Expected entry to be fresh before the TTL")
	}

	now = now.Add(time.Second)
	if _, ok := cache.Get("model:org/a"); ok {
		t.Error("Expected entry to expire at the TTL")
	}
}

func TestCache_RejectsInvalidJSON(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"), 0)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer cache.Close()

	if err := cache.Put("k", []byte("not json")); err == nil {
		t.Error("Expected invalid JSON to be rejected")
	}
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"), time.Minute)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Put("old", []byte(`1`))
	now = now.Add(2 * time.Minute)
	cache.Put("new", []byte(`2`))
	cache.Put("gone", []byte(`3`))

	if err := cache.Invalidate("gone"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok := cache.Get("gone"); ok {
		t.Error("Expected invalidated entry to be missing")
	}

	removed, err := cache.Purge()
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 expired entry purged, got %d", removed)
	}
	if _, ok := cache.Get("new"); !ok {
		t.Error("Expected fresh entry to survive purge")
	}
}
