package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"hf-fetch/downloader"
)

const copyBufferSize = 1 << 20

// Transfer is the blocking file transfer primitive. It streams into a staging
// file under the destination's .cache directory, resumes a previous staging
// file with a Range request and renames into place when complete. It reports
// no progress of its own.
type Transfer struct {
	client *Client
	logger *zap.Logger
}

// NewTransfer creates a transfer primitive sharing the client's endpoint, token and HTTP client
func NewTransfer(client *Client, logger *zap.Logger) *Transfer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{client: client, logger: logger}
}

// StagingPath is where filename is written while in flight
func StagingPath(destDir, filename string) string {
	return downloader.DefaultStagingPath(destDir, filename)
}

// Transfer implements downloader.Transferer
func (t *Transfer) Transfer(ctx context.Context, repoID, filename, destDir string) error {
	staging := StagingPath(destDir, filename)
	dest := filepath.Join(destDir, filepath.FromSlash(filename))
	log := t.logger.With(zap.String("repo", repoID), zap.String("file", filename))

	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return err
	}

	var offset int64
	if info, err := os.Stat(staging); err == nil {
		offset = info.Size()
	}

	rawURL := t.client.ResolveURL(repoID, filename)
	req, err := t.client.newRequest(ctx, rawURL)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		log.Debug("requesting byte range", zap.String("offset", humanize.IBytes(uint64(offset))))
	}

	resp, err := t.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		if offset > 0 {
			log.Info("server ignored range request, restarting file")
			offset = 0
		}
		flags |= os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		// The staging file already holds every byte.
		log.Debug("staging file already complete")
		return finalize(staging, dest)
	default:
		return statusError(resp, rawURL)
	}

	f, err := os.OpenFile(staging, flags, 0o644)
	if err != nil {
		return err
	}

	written, err := io.CopyBuffer(f, resp.Body, make([]byte, copyBufferSize))
	if err != nil {
		f.Close()
		return fmt.Errorf("transfer of %s interrupted after %s: %w", filename, humanize.IBytes(uint64(offset+written)), err)
	}
	if resp.ContentLength >= 0 && written < resp.ContentLength {
		f.Close()
		return io.ErrUnexpectedEOF
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Debug("transfer finished", zap.String("size", humanize.IBytes(uint64(offset+written))))
	return finalize(staging, dest)
}

func finalize(staging, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(staging, dest)
}
