// Package rpc is the gRPC transport for invoke calls.
package rpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/heimdex/denoise-agent/internal/profile"
	"github.com/heimdex/denoise-agent/internal/request"
)

const (
	// CallTimeout is the fixed deadline of a Process call.
	CallTimeout = 60 * time.Second

	// CorrelationMetadataKey carries the correlation id.
	CorrelationMetadataKey = "x-request-id"
)

// ProfileSource supplies the profile in effect at the start of each call.
type ProfileSource interface {
	Active() profile.Profile
}

// Client calls DeepDenoise.Process on the active profile's gRPC endpoint.
// Each call opens its own channel and closes it before returning.
type Client struct {
	profiles ProfileSource
	logger   *slog.Logger
	dialOpts []grpc.DialOption
	timeout  time.Duration
}

// NewClient dials the active profile's gRPC endpoint on each call.
func NewClient(profiles ProfileSource, logger *slog.Logger, opts ...grpc.DialOption) *Client {
	return &Client{profiles: profiles, logger: logger, dialOpts: opts, timeout: CallTimeout}
}

// Process sends req with the correlation id as metadata. A failed call is
// returned as a reply whose Status carries the error detail together with
// the gRPC code; only caller cancellation is returned as an error.
func (c *Client) Process(ctx context.Context, req ProcessRequest, correlationID string) (*ProcessReply, codes.Code, error) {
	target, creds := dialTarget(c.profiles.Active().RPCTarget())

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, c.dialOpts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return &ProcessReply{Status: err.Error()}, codes.Unavailable, nil
	}
	defer conn.Close()

	in, err := req.toMessage()
	if err != nil {
		return &ProcessReply{Status: err.Error()}, codes.Internal, nil
	}
	out, err := newReplyMessage()
	if err != nil {
		return &ProcessReply{Status: err.Error()}, codes.Internal, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	callCtx = metadata.AppendToOutgoingContext(callCtx, CorrelationMetadataKey, correlationID)

	if err := conn.Invoke(callCtx, ProcessMethod, in, out); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, codes.Canceled, fmt.Errorf("rpc process: %w", ctx.Err())
		}
		st := status.Convert(err)
		c.logger.Warn("rpc process failed",
			"target", target,
			"code", st.Code().String(),
			"detail", st.Message(),
			"correlation_id", correlationID,
		)
		return &ProcessReply{Status: st.Message()}, st.Code(), nil
	}

	reply := replyFromMessage(out)
	return &reply, codes.OK, nil
}

// dialTarget turns an endpoint URL into a gRPC target. https uses TLS and
// http is plaintext; any other form is passed through as a plaintext target.
func dialTarget(endpoint string) (string, credentials.TransportCredentials) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return endpoint, insecure.NewCredentials()
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	if u.Scheme == "https" {
		return host, credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return host, insecure.NewCredentials()
}

// Invoker adapts Client to the JSON invoke contract used by the pipeline.
type Invoker struct {
	client *Client
}

// NewInvoker adapts client to the pipeline's JSON invoker.
func NewInvoker(client *Client) *Invoker {
	return &Invoker{client: client}
}

// Invoke converts body to a ProcessRequest, calls Process and renders the
// reply as JSON. The returned status is the HTTP equivalent of the gRPC code.
func (i *Invoker) Invoke(ctx context.Context, body any, correlationID string) (int, json.RawMessage, error) {
	req, err := toInvokeRequest(body)
	if err != nil {
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return http.StatusInternalServerError, b, nil
	}

	reply, code, err := i.client.Process(ctx, ProcessFromInvoke(req), correlationID)
	if err != nil {
		return 0, nil, err
	}

	out := struct {
		OutputKey string `json:"output_key,omitempty"`
		OutputURL string `json:"output_url,omitempty"`
		Status    string `json:"status"`
		Code      string `json:"code"`
		Error     string `json:"error,omitempty"`
	}{
		OutputKey: reply.OutputKey,
		OutputURL: reply.OutputURL,
		Status:    reply.Status,
		Code:      code.String(),
	}
	if code != codes.OK {
		out.Error = reply.Status
	}
	b, _ := json.Marshal(out)
	return HTTPStatusFromCode(code), b, nil
}

func toInvokeRequest(body any) (request.InvokeRequest, error) {
	switch v := body.(type) {
	case request.InvokeRequest:
		return v, nil
	case *request.InvokeRequest:
		if v == nil {
			return request.InvokeRequest{}, errors.New("nil request")
		}
		return *v, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return request.InvokeRequest{}, fmt.Errorf("marshal request: %w", err)
	}
	var req request.InvokeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return request.InvokeRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// ProcessFromInvoke maps the HTTP request body onto ProcessRequest, applying
// the documented defaults for missing values.
func ProcessFromInvoke(req request.InvokeRequest) ProcessRequest {
	in, _ := request.ExtractKeyFromS3URL(req.ImgInputURL)
	out, _ := request.ExtractKeyFromS3URL(req.ImgOutputURL)

	p := ProcessRequest{
		InputKey:  in,
		OutputKey: out,
		Model:     req.Model,
		Width:     int32(req.Width),
		Height:    int32(req.Height),
		UsingBits: int32(req.UsingBits),
	}
	if p.Model == "" {
		p.Model = profile.DefaultModel
	}
	if p.Width == 0 {
		p.Width = profile.DefaultWidth
	}
	if p.Height == 0 {
		p.Height = profile.DefaultHeight
	}
	if p.UsingBits == 0 {
		p.UsingBits = profile.DefaultUsingBits
	}
	return p
}

// HTTPStatusFromCode maps a gRPC code to the closest HTTP status.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
