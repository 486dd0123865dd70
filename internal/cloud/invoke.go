package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// CorrelationHeader carries the run's correlation id on invoke calls.
const CorrelationHeader = "X-Request-Id"

// InvokeClient posts processing requests to the invoke endpoint of the
// active profile.
type InvokeClient struct {
	profiles   ProfileSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewInvokeClient posts invoke requests to the active profile's API.
func NewInvokeClient(profiles ProfileSource, httpClient *http.Client, logger *slog.Logger) *InvokeClient {
	return &InvokeClient{profiles: profiles, httpClient: httpClient, logger: logger}
}

// Invoke sends body as JSON and returns the status and a JSON response.
// Empty, non-JSON and transport failures come back as an {"error": ...}
// payload with a nil error; only caller cancellation is returned as an error.
func (c *InvokeClient) Invoke(ctx context.Context, body any, correlationID string) (int, json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return http.StatusInternalServerError, errorPayload(fmt.Sprintf("marshal request: %v", err)), nil
	}

	endpoint := c.profiles.Active().InvokeURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return http.StatusInternalServerError, errorPayload(fmt.Sprintf("create request: %v", err)), nil
	}

	// Some servers reject a charset parameter on the content type.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := canceled(ctx, "invoke"); cerr != nil {
			return 0, nil, cerr
		}
		c.logger.Warn("invoke transport failure", "correlation_id", correlationID, "error", err)
		return http.StatusInternalServerError, errorPayload(err.Error()), nil
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		if cerr := canceled(ctx, "invoke"); cerr != nil {
			return 0, nil, cerr
		}
		return http.StatusInternalServerError, errorPayload(fmt.Sprintf("read body: %v", err)), nil
	}

	return resp.StatusCode, WrapResponse(text), nil
}

// WrapResponse returns text when it is valid JSON and a synthetic error
// payload otherwise.
func WrapResponse(text []byte) json.RawMessage {
	if strings.TrimSpace(string(text)) == "" {
		return errorPayload("Empty response body")
	}
	if !json.Valid(text) {
		b, _ := json.Marshal(struct {
			Error string `json:"error"`
			Raw   string `json:"raw"`
		}{Error: "Non-JSON response", Raw: string(text)})
		return b
	}
	return json.RawMessage(bytes.TrimSpace(text))
}

func errorPayload(msg string) json.RawMessage {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	return b
}
