package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/heimdex/denoise-agent/internal/logging"
)

// Presign modes.
const (
	ModeUpload   = "upload"
	ModeDownload = "download"
)

// PresignResult is a short-lived URL and the method it is valid for.
type PresignResult struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// DefaultMethod returns PUT for uploads and GET for downloads.
func DefaultMethod(mode string) string {
	if mode == ModeUpload {
		return http.MethodPut
	}
	return http.MethodGet
}

func validateMode(mode, key string) error {
	if mode != ModeUpload && mode != ModeDownload {
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown presign mode %q", mode)}
	}
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Field: "object_key", Message: "object key is empty"}
	}
	return nil
}

// PresignClient asks the presign endpoint of the active profile for upload
// and download URLs.
type PresignClient struct {
	profiles   ProfileSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPresignClient asks the active profile's presign endpoint for URLs.
func NewPresignClient(profiles ProfileSource, httpClient *http.Client, logger *slog.Logger) *PresignClient {
	return &PresignClient{profiles: profiles, httpClient: httpClient, logger: logger}
}

// RequestPresignedURL issues GET <presign>?mode=&file= and parses either a
// bare URL body or {"url": ..., "method": ...}.
func (c *PresignClient) RequestPresignedURL(ctx context.Context, mode, key string) (PresignResult, error) {
	if err := validateMode(mode, key); err != nil {
		return PresignResult{}, err
	}

	endpoint := c.profiles.Active().PresignURL()
	u, err := url.Parse(endpoint)
	if err != nil {
		return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: fmt.Errorf("parse presign endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("mode", mode)
	q.Set("file", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := canceled(ctx, "presign "+mode); cerr != nil {
			return PresignResult{}, cerr
		}
		return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return PresignResult{}, &PresignError{Mode: mode, Key: key, StatusCode: resp.StatusCode, Body: readLimited(resp.Body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		if cerr := canceled(ctx, "presign "+mode); cerr != nil {
			return PresignResult{}, cerr
		}
		return PresignResult{}, &PresignError{Mode: mode, Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	result, err := ParsePresignResponse(mode, body)
	if err != nil {
		return PresignResult{}, &PresignError{Mode: mode, Key: key, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("presigned url issued",
		"mode", mode,
		"key", key,
		"method", result.Method,
		"url", logging.SanitizeURL(result.URL),
	)
	return result, nil
}

// ParsePresignResponse accepts a bare absolute URL (optionally quoted) or a
// JSON object with url and optional method.
func ParsePresignResponse(mode string, body []byte) (PresignResult, error) {
	trimmed := strings.Trim(string(body), "\" \n\r\t")
	if isAbsoluteURL(trimmed) {
		return PresignResult{URL: trimmed, Method: DefaultMethod(mode)}, nil
	}

	var payload struct {
		URL    *string `json:"url"`
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return PresignResult{}, fmt.Errorf("%w: %v", ErrInvalidPresignResponse, err)
	}
	if payload.URL == nil || strings.TrimSpace(*payload.URL) == "" {
		return PresignResult{}, fmt.Errorf("%w: missing url", ErrInvalidPresignResponse)
	}

	method := DefaultMethod(mode)
	if payload.Method != nil && strings.TrimSpace(*payload.Method) != "" {
		method = strings.ToUpper(strings.TrimSpace(*payload.Method))
	}
	return PresignResult{URL: strings.TrimSpace(*payload.URL), Method: method}, nil
}

func isAbsoluteURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n{}") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
