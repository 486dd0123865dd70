package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heimdex/denoise-agent/internal/logging"
)

// DownloadChunkSize is the buffer size used when writing downloads to disk.
const DownloadChunkSize = 81920

// ProgressFunc receives the cumulative number of bytes moved so far.
type ProgressFunc func(bytes int64)

// progressReader reports cumulative bytes after every Read.
type progressReader struct {
	r  io.Reader
	n  int64
	fn ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		if p.fn != nil {
			p.fn(p.n)
		}
	}
	return n, err
}

// TransferClient streams objects to and from presigned URLs.
type TransferClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTransferClient creates a client for presigned PUT and GET transfers.
func NewTransferClient(httpClient *http.Client, logger *slog.Logger) *TransferClient {
	return &TransferClient{httpClient: httpClient, logger: logger}
}

// Upload PUTs the file at localPath to url without buffering it. The HTTP
// status is returned as is; a non-2xx status is not an error.
func (c *TransferClient) Upload(ctx context.Context, url, localPath string, onProgress ProgressFunc) (int, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, 0, &TransferError{Op: "upload", Err: err}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, 0, &TransferError{Op: "upload", Err: fmt.Errorf("stat %s: %w", localPath, err)}
	}

	body := &progressReader{r: f, fn: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return 0, 0, &TransferError{Op: "upload", Err: fmt.Errorf("create request: %w", err)}
	}
	req.ContentLength = stat.Size()
	if stat.Size() == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := canceled(ctx, "upload"); cerr != nil {
			return 0, body.n, cerr
		}
		return 0, body.n, &TransferError{Op: "upload", Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		c.logger.Warn("upload rejected",
			"status", resp.StatusCode,
			"url", logging.SanitizeURL(url),
			"body", truncate(readLimited(resp.Body), 512),
		)
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	}

	return resp.StatusCode, body.n, nil
}

// ContentLength returns the declared size of the object behind url, or -1
// when it cannot be determined. Presigned GET URLs are usually bound to GET,
// so a rejected HEAD falls back to a one-byte ranged GET.
func (c *TransferClient) ContentLength(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := canceled(ctx, "content length"); cerr != nil {
			return -1, cerr
		}
		return -1, nil
	}
	resp.Body.Close()
	if isSuccess(resp.StatusCode) && resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = c.httpClient.Do(req)
	if err != nil {
		if cerr := canceled(ctx, "content length"); cerr != nil {
			return -1, cerr
		}
		return -1, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return totalFromContentRange(resp.Header.Get("Content-Range")), nil
	case http.StatusOK:
		return resp.ContentLength, nil
	}
	return -1, nil
}

// totalFromContentRange parses the size out of "bytes 0-0/1234".
func totalFromContentRange(h string) int64 {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(h[i+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Download GETs url into destPath, creating parent directories. A partial
// file is left behind on failure or cancellation.
func (c *TransferClient) Download(ctx context.Context, url, destPath string, onProgress ProgressFunc) (int, int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, 0, &TransferError{Op: "download", Err: fmt.Errorf("create destination dir: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, &TransferError{Op: "download", Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := canceled(ctx, "download"); cerr != nil {
			return 0, 0, cerr
		}
		return 0, 0, &TransferError{Op: "download", Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return resp.StatusCode, 0, &TransferError{Op: "download", StatusCode: resp.StatusCode, Body: truncate(readLimited(resp.Body), 512)}
	}

	f, err := os.Create(destPath)
	if err != nil {
		return resp.StatusCode, 0, &TransferError{Op: "download", StatusCode: resp.StatusCode, Err: err}
	}
	defer f.Close()

	var total int64
	buf := make([]byte, DownloadChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return resp.StatusCode, total, &TransferError{Op: "download", StatusCode: resp.StatusCode, Err: fmt.Errorf("write %s: %w", destPath, werr)}
			}
			total += int64(n)
			if onProgress != nil {
				onProgress(total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if cerr := canceled(ctx, "download"); cerr != nil {
				return resp.StatusCode, total, cerr
			}
			return resp.StatusCode, total, &TransferError{Op: "download", StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", rerr)}
		}
	}

	if err := f.Close(); err != nil {
		return resp.StatusCode, total, &TransferError{Op: "download", StatusCode: resp.StatusCode, Err: fmt.Errorf("close %s: %w", destPath, err)}
	}
	return resp.StatusCode, total, nil
}
