// Package hub talks to a Hugging Face compatible model hub: repository
// metadata over the JSON API, plus the blocking file transfer used by the
// downloader.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"hf-fetch/downloader"
)

const (
	// DefaultEndpoint is the public hub
	DefaultEndpoint = "https://huggingface.co"

	// DefaultRevision is the branch files are resolved from
	DefaultRevision = "main"

	defaultAPITimeout = 30 * time.Second
)

// LFSInfo describes the large-file pointer of a sibling
type LFSInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Sibling is one file entry of a repository
type Sibling struct {
	Rfilename string   `json:"rfilename"`
	Size      *int64   `json:"size,omitempty"`
	LFS       *LFSInfo `json:"lfs,omitempty"`
}

// ModelInfo is the subset of the model API response used here
type ModelInfo struct {
	ID       string    `json:"id"`
	SHA      string    `json:"sha"`
	Siblings []Sibling `json:"siblings"`
}

// RemoteError is an HTTP error status returned by the hub
type RemoteError struct {
	StatusCode int
	Status     string
	URL        string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("hub request failed with status %s for %s", e.Status, e.URL)
}

// NonRecoverable reports whether retrying cannot succeed: missing
// repositories and rejected credentials are final, server errors are not.
func (e *RemoteError) NonRecoverable() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusGone:
		return true
	default:
		return false
	}
}

// statusError converts a failed response into an error the downloader can classify
func statusError(resp *http.Response, rawURL string) error {
	remote := &RemoteError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	if remote.NonRecoverable() {
		return remote
	}
	return downloader.NewDownloadErrorWithCause(downloader.ErrorNetworkFailure, "hub temporarily unavailable", remote).
		WithContext("status", resp.StatusCode)
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithEndpoint overrides the hub base URL
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithToken sets the bearer token sent with every request
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCache caches model metadata responses
func WithCache(cache *Cache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// WithClientLogger sets the logger
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client reads repository metadata from the hub API
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	cache    *Cache
	logger   *zap.Logger
}

// NewClient creates a hub client
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		http:     &http.Client{},
		logger:   zap.NewNop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Endpoint returns the hub base URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ModelInfo fetches repository metadata including per-file sizes and LFS digests
func (c *Client) ModelInfo(ctx context.Context, repoID string) (*ModelInfo, error) {
	if err := downloader.ValidateRepoID(repoID); err != nil {
		return nil, err
	}

	cacheKey := "model:" + repoID
	if c.cache != nil {
		if data, ok := c.cache.Get(cacheKey); ok {
			var info ModelInfo
			if err := json.Unmarshal(data, &info); err == nil {
				c.logger.Debug("model info served from cache", zap.String("repo", repoID))
				return &info, nil
			}
		}
	}

	apiURL := fmt.Sprintf("%s/api/models/%s?blobs=true", c.endpoint, escapeRepoID(repoID))
	body, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	var info ModelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error decoding model info for %s: %w", repoID, err)
	}

	if c.cache != nil {
		if err := c.cache.Put(cacheKey, body); err != nil {
			c.logger.Warn("failed to cache model info", zap.String("repo", repoID), zap.Error(err))
		}
	}

	c.logger.Debug("fetched model info",
		zap.String("repo", repoID),
		zap.Int("files", len(info.Siblings)),
		zap.String("sha", info.SHA))
	return &info, nil
}

// ListFiles returns every filename of the repository in sorted order
func (c *Client) ListFiles(ctx context.Context, repoID string) ([]string, error) {
	return c.ListFilesWithSuffix(ctx, repoID, "")
}

// ListFilesWithSuffix returns the filenames ending in suffix, compared case-insensitively
func (c *Client) ListFilesWithSuffix(ctx context.Context, repoID, suffix string) ([]string, error) {
	info, err := c.ModelInfo(ctx, repoID)
	if err != nil {
		return nil, err
	}

	suffix = strings.ToLower(suffix)
	files := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if s.Rfilename == "" {
			continue
		}
		if suffix != "" && !strings.HasSuffix(strings.ToLower(s.Rfilename), suffix) {
			continue
		}
		files = append(files, s.Rfilename)
	}
	sort.Strings(files)
	return files, nil
}

// FileSizes maps each filename to its size. Files without size metadata map to 0.
func (c *Client) FileSizes(ctx context.Context, repoID string) (map[string]int64, error) {
	info, err := c.ModelInfo(ctx, repoID)
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]int64, len(info.Siblings))
	for _, s := range info.Siblings {
		if s.Rfilename == "" {
			continue
		}
		switch {
		case s.Size != nil && *s.Size > 0:
			sizes[s.Rfilename] = *s.Size
		case s.LFS != nil && s.LFS.Size > 0:
			sizes[s.Rfilename] = s.LFS.Size
		default:
			sizes[s.Rfilename] = 0
			if s.Size == nil {
				c.logger.Debug("no size metadata", zap.String("repo", repoID), zap.String("file", s.Rfilename))
			}
		}
	}
	return sizes, nil
}

// FileChecksums maps LFS-tracked filenames to their SHA-256 digests
func (c *Client) FileChecksums(ctx context.Context, repoID string) (map[string]string, error) {
	info, err := c.ModelInfo(ctx, repoID)
	if err != nil {
		return nil, err
	}

	digests := make(map[string]string)
	for _, s := range info.Siblings {
		if s.LFS != nil && s.LFS.SHA256 != "" {
			digests[s.Rfilename] = s.LFS.SHA256
		}
	}
	return digests, nil
}

// CurrentVersion returns the commit sha of the repository's default revision
func (c *Client) CurrentVersion(ctx context.Context, repoID string) (string, error) {
	info, err := c.ModelInfo(ctx, repoID)
	if err != nil {
		return "", err
	}
	return info.SHA, nil
}

// ResolveURL is the download URL of one file at the default revision
func (c *Client) ResolveURL(repoID, filename string) string {
	parts := strings.Split(filename, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s?download=true",
		c.endpoint, escapeRepoID(repoID), DefaultRevision, strings.Join(parts, "/"))
}

// newRequest builds an authenticated request
func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "hf-fetch")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultAPITimeout)
	defer cancel()

	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", rawURL, err)
	}
	return body, nil
}

func escapeRepoID(repoID string) string {
	parts := strings.SplitN(repoID, "/", 2)
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
