package downloader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// remoteErr mimics a 404 from the repository API
type remoteErr struct{ msg string }

func (e remoteErr) Error() string        { return e.msg }
func (e remoteErr) NonRecoverable() bool { return true }

// MockTransfer is a mock implementation of Transferer for testing. Each call
// consumes the next scripted error; once the script is exhausted the file is
// written through a staging file and renamed into place.
type MockTransfer struct {
	mu     sync.Mutex
	calls  []string
	script []error
	sizes  map[string]int64
	chunks int
	delay  time.Duration
	block  chan struct{}
}

func NewMockTransfer(sizes map[string]int64) *MockTransfer {
	return &MockTransfer{sizes: sizes, chunks: 4, delay: 15 * time.Millisecond}
}

func (m *MockTransfer) Transfer(ctx context.Context, repoID, filename, destDir string) error {
	m.mu.Lock()
	m.calls = append(m.calls, filename)
	var scripted error
	if len(m.script) > 0 {
		scripted = m.script[0]
		m.script = m.script[1:]
	}
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
		return errors.New("released")
	}
	if scripted != nil {
		return scripted
	}
	return m.writeFile(ctx, filename, destDir)
}

func (m *MockTransfer) writeFile(ctx context.Context, filename, destDir string) error {
	staging := stagingPath(destDir, filename)
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	remaining := m.sizes[filename] - info.Size()
	chunk := remaining / int64(m.chunks)
	for i := 0; i < m.chunks && remaining > 0; i++ {
		n := chunk
		if i == m.chunks-1 {
			n = remaining
		}
		if _, err := f.Write(bytes.Repeat([]byte("w"), int(n))); err != nil {
			f.Close()
			return err
		}
		remaining -= n
		select {
		case <-ctx.Done():
			f.Close()
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	dest := filepath.Join(destDir, filename)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(staging, dest)
}

func (m *MockTransfer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]string, len(m.calls))
	copy(calls, m.calls)
	return calls
}

func stagingPath(destDir, filename string) string {
	return DefaultStagingPath(destDir, filename)
}

// fileContent is what MockTransfer writes for a file of the given size
func fileContent(size int64) []byte {
	return bytes.Repeat([]byte("w"), int(size))
}

// MockRepoClient is a mock implementation of RepoClient for testing
type MockRepoClient struct {
	mu        sync.Mutex
	sizes     map[string]int64
	version   string
	sizesErr  error
	checksums map[string]string
	sizeCalls int
}

func (m *MockRepoClient) ListFiles(ctx context.Context, repoID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := make([]string, 0, len(m.sizes))
	for f := range m.sizes {
		files = append(files, f)
	}
	return files, nil
}

func (m *MockRepoClient) FileSizes(ctx context.Context, repoID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeCalls++
	if m.sizesErr != nil {
		return nil, m.sizesErr
	}
	out := make(map[string]int64, len(m.sizes))
	for k, v := range m.sizes {
		out[k] = v
	}
	return out, nil
}

func (m *MockRepoClient) CurrentVersion(ctx context.Context, repoID string) (string, error) {
	return m.version, nil
}

// MockChecksumClient adds per-file digests to MockRepoClient
type MockChecksumClient struct {
	*MockRepoClient
}

func (m MockChecksumClient) FileChecksums(ctx context.Context, repoID string) (map[string]string, error) {
	return m.checksums, nil
}

// SaveVersionCall records one SaveVersion invocation
type SaveVersionCall struct {
	RepoID  string
	Version string
}

// MockVersionStore is a mock implementation of VersionStore for testing
type MockVersionStore struct {
	mu    sync.Mutex
	calls []SaveVersionCall
}

func (m *MockVersionStore) SaveVersion(repoID, versionToken string, downloadedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SaveVersionCall{RepoID: repoID, Version: versionToken})
	return nil
}

func (m *MockVersionStore) Calls() []SaveVersionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]SaveVersionCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// MockHistory is a mock implementation of HistoryRecorder for testing
type MockHistory struct {
	mu       sync.Mutex
	started  []string
	finished []DownloadSummary
}

func (m *MockHistory) RecordStart(repoID string, files []string, totalSize int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, repoID)
	return "history-1", nil
}

func (m *MockHistory) RecordFinish(id string, result DownloadSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, result)
	return nil
}

func (m *MockHistory) Finished() []DownloadSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DownloadSummary, len(m.finished))
	copy(out, m.finished)
	return out
}

// eventRecorder collects progress events
type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) Record(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}
