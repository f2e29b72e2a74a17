// Package storage persists what has been downloaded: the version token of
// each repository and a history of download attempts.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RepoVersion is the persisted state of one downloaded repository
type RepoVersion struct {
	VersionToken          string    `json:"version_token,omitempty"`
	LastDownloadTimestamp time.Time `json:"last_download_timestamp"`
}

// MetadataStore keeps repository versions in a JSON file that is rewritten
// whole on every change.
type MetadataStore struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]RepoVersion
}

// OpenMetadataStore loads path. A missing file starts empty; an unreadable
// one is logged and replaced on the next save.
func OpenMetadataStore(path string, logger *zap.Logger) (*MetadataStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MetadataStore{path: path, logger: logger, data: make(map[string]RepoVersion)}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		logger.Error("metadata file is corrupt, starting empty", zap.String("path", path), zap.Error(err))
		s.data = make(map[string]RepoVersion)
	}
	return s, nil
}

// SaveVersion implements downloader.VersionStore. An empty token keeps the
// previously stored one.
func (s *MetadataStore) SaveVersion(repoID, versionToken string, downloadedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.data[repoID]
	if versionToken != "" {
		entry.VersionToken = versionToken
	}
	entry.LastDownloadTimestamp = downloadedAt.UTC()
	s.data[repoID] = entry

	return s.flush()
}

// Get returns the stored version of repoID
func (s *MetadataStore) Get(repoID string) (RepoVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[repoID]
	return v, ok
}

// Repos returns every stored repository id in sorted order
func (s *MetadataStore) Repos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repos := make([]string, 0, len(s.data))
	for id := range s.data {
		repos = append(repos, id)
	}
	sort.Strings(repos)
	return repos
}

// Remove forgets repoID
func (s *MetadataStore) Remove(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[repoID]; !ok {
		return nil
	}
	delete(s.data, repoID)
	return s.flush()
}

// flush writes a temp file next to the target and renames it over the
// target, so readers see either the old or the new document. Caller holds mu.
func (s *MetadataStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace metadata file: %w", err)
	}

	s.logger.Debug("metadata saved", zap.String("path", s.path), zap.Int("repos", len(s.data)))
	return nil
}
