package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMetadataStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "metadata.json")
	store, err := OpenMetadataStore(path, nil)
	if err != nil {
		t.Fatalf("OpenMetadataStore failed: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveVersion("org/model", "abc123", at); err != nil {
		t.Fatalf("SaveVersion failed: %v", err)
	}

	reopened, err := OpenMetadataStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok := reopened.Get("org/model")
	if !ok {
		t.Fatal("Expected stored version after reload")
	}
	if got.VersionToken != "abc123" || !got.LastDownloadTimestamp.Equal(at) {
		t.Errorf("Unexpected stored version: %+v", got)
	}
}

func TestMetadataStore_EmptyTokenKeepsPrevious(t *testing.T) {
	store, _ := OpenMetadataStore(filepath.Join(t.TempDir(), "metadata.json"), nil)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	store.SaveVersion("org/model", "abc123", first)
	store.SaveVersion("org/model", "", second)

	got, _ := store.Get("org/model")
	if got.VersionToken != "abc123" {
		t.Errorf("Expected token to be kept, got %q", got.VersionToken)
	}
	if !got.LastDownloadTimestamp.Equal(second) {
		t.Errorf("Expected timestamp to advance, got %v", got.LastDownloadTimestamp)
	}
}

func TestMetadataStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := OpenMetadataStore(path, nil)
	if err != nil {
		t.Fatalf("Expected corrupt file to be tolerated, got %v", err)
	}
	if len(store.Repos()) != 0 {
		t.Errorf("Expected empty store, got %v", store.Repos())
	}

	if err := store.SaveVersion("org/model", "v1", time.Now()); err != nil {
		t.Fatalf("SaveVersion failed: %v", err)
	}
	if _, err := OpenMetadataStore(path, nil); err != nil {
		t.Errorf("Expected rewritten file to load, got %v", err)
	}
}

func TestMetadataStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store, _ := OpenMetadataStore(filepath.Join(dir, "metadata.json"), nil)

	for i := 0; i < 3; i++ {
		store.SaveVersion("org/model", "v", time.Now())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "metadata.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only metadata.json, got %v", names)
	}
}

func TestMetadataStore_ReposAndRemove(t *testing.T) {
	store, _ := OpenMetadataStore(filepath.Join(t.TempDir(), "metadata.json"), nil)
	store.SaveVersion("org/b", "2", time.Now())
	store.SaveVersion("org/a", "1", time.Now())

	repos := store.Repos()
	if len(repos) != 2 || repos[0] != "org/a" || repos[1] != "org/b" {
		t.Errorf("Expected sorted repos, got %v", repos)
	}

	if err := store.Remove("org/a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := store.Get("org/a"); ok {
		t.Error("Expected org/a to be removed")
	}
	if err := store.Remove("org/missing"); err != nil {
		t.Errorf("Expected removing an unknown repo to succeed, got %v", err)
	}
}
