package cloud

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/heimdex/denoise-agent/internal/profile"
)

const (
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4096

	// DefaultTimeout bounds presign and invoke calls.
	DefaultTimeout = 60 * time.Second
)

// ProfileSource supplies the profile in effect at the start of each call.
type ProfileSource interface {
	Active() profile.Profile
}

// Client bundles the remote service clients sharing one profile source.
type Client struct {
	Presign  *PresignClient
	Transfer *TransferClient
	Invoke   *InvokeClient
	Health   *HealthClient
}

// NewClient creates HTTP clients for every remote call the agent makes.
// timeout applies to presign and invoke; transfers are bounded only by ctx.
func NewClient(profiles ProfileSource, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	api := &http.Client{Timeout: timeout}

	return &Client{
		Presign:  NewPresignClient(profiles, api, logger),
		Transfer: NewTransferClient(newTransferHTTPClient(), logger),
		Invoke:   NewInvokeClient(profiles, api, logger),
		Health:   NewHealthClient(profiles, &http.Client{}, logger),
	}
}

// newTransferHTTPClient has no overall timeout so large objects are not cut
// off; connection setup and response headers are still bounded.
func newTransferHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 5 * time.Minute,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func readLimited(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(b)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
