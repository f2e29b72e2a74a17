package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// IncompleteSuffix is the naming convention for staging files
const IncompleteSuffix = ".incomplete"

// Candidate is one on-disk file that may hold the bytes of an in-flight transfer
type Candidate struct {
	ModTime time.Time
	Size    int64
	Label   string
}

// CandidateLocator enumerates every location a transfer may currently be writing to
type CandidateLocator interface {
	Candidates() []Candidate
	Describe() string
}

// FileLocator reports a single path if it exists
type FileLocator struct {
	Path  string
	Label string
}

// Candidates implements CandidateLocator
func (fl FileLocator) Candidates() []Candidate {
	info, err := os.Stat(fl.Path)
	if err != nil || info.IsDir() {
		return nil
	}
	return []Candidate{{ModTime: info.ModTime(), Size: info.Size(), Label: fl.Label}}
}

// Describe implements CandidateLocator
func (fl FileLocator) Describe() string {
	return fl.Label + "=" + existsString(fl.Path)
}

// MultiLocator merges the candidates of several locators
type MultiLocator []CandidateLocator

// Candidates implements CandidateLocator
func (ml MultiLocator) Candidates() []Candidate {
	var all []Candidate
	for _, l := range ml {
		all = append(all, l.Candidates()...)
	}
	return all
}

// Describe implements CandidateLocator
func (ml MultiLocator) Describe() string {
	out := ""
	for i, l := range ml {
		if i > 0 {
			out += ", "
		}
		out += l.Describe()
	}
	return out
}

// StagingPathFunc names the staging file a transfer of filename writes to
type StagingPathFunc func(destDir, filename string) string

// DefaultStagingPath is the hub layout: the hex SHA-256 of the repo-relative
// filename with the incomplete suffix, inside the per-download staging directory
func DefaultStagingPath(destDir, filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return filepath.Join(LocalStagingDir(destDir), hex.EncodeToString(sum[:])+IncompleteSuffix)
}

// NewHubCacheLocator returns the locator for the hub transfer layout: the final
// destination file plus the file's own staging file in the per-download cache
// and, under the same name, in the shared global cache. Staging files of other
// files are never candidates. An empty globalCacheDir skips the global cache.
func NewHubCacheLocator(destDir, filename, globalCacheDir string, staging StagingPathFunc) MultiLocator {
	if staging == nil {
		staging = DefaultStagingPath
	}
	local := staging(destDir, filename)
	locators := MultiLocator{
		FileLocator{Path: filepath.Join(destDir, filepath.FromSlash(filename)), Label: "target_file"},
		FileLocator{Path: local, Label: "local_cache"},
	}
	if globalCacheDir != "" {
		locators = append(locators, FileLocator{
			Path:  filepath.Join(globalCacheDir, "download", filepath.Base(local)),
			Label: "global_cache",
		})
	}
	return locators
}

// LocalStagingDir is the per-download staging directory inside destDir
func LocalStagingDir(destDir string) string {
	return filepath.Join(destDir, ".cache", "huggingface", "download")
}

// DefaultGlobalCacheDir resolves the shared hub cache the same way the hub tooling does
func DefaultGlobalCacheDir() string {
	if dir := os.Getenv("HF_HUB_CACHE"); dir != "" {
		return dir
	}
	if home := os.Getenv("HF_HOME"); home != "" {
		return filepath.Join(home, "hub")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "huggingface", "hub")
}

// mostRecent picks the most recently modified candidate. Ties go to the larger
// file, then to the lexicographically smaller label.
func mostRecent(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.After(b.ModTime)
		}
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		return a.Label < b.Label
	})
	return sorted[0], true
}

func existsString(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "true"
	}
	return "false"
}
