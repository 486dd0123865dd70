package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/heimdex/denoise-agent/internal/cloud"
)

// TransportInvoker sends each invoke over gRPC when that transport is
// selected and the active profile has an RPC endpoint, otherwise over HTTP.
type TransportInvoker struct {
	profiles ProfileSource
	http     Invoker
	rpc      Invoker
	useRPC   bool
	logger   *slog.Logger
}

// NewTransportInvoker routes between the HTTP and gRPC invokers.
func NewTransportInvoker(profiles ProfileSource, http, rpc Invoker, useRPC bool, logger *slog.Logger) *TransportInvoker {
	return &TransportInvoker{profiles: profiles, http: http, rpc: rpc, useRPC: useRPC, logger: logger}
}

func (t *TransportInvoker) Invoke(ctx context.Context, body any, correlationID string) (int, json.RawMessage, error) {
	if t.useRPC && t.rpc != nil && t.profiles.Active().GrpcEndpoint != "" {
		t.logger.Debug("invoke over grpc", "correlation_id", correlationID)
		return t.rpc.Invoke(ctx, body, correlationID)
	}
	return t.http.Invoke(ctx, body, correlationID)
}

// StoragePresigner signs locally when the active profile carries storage
// credentials and asks the remote presign endpoint otherwise.
type StoragePresigner struct {
	profiles ProfileSource
	remote   Presigner
	local    Presigner
}

// NewStoragePresigner creates a presigner that picks local or remote
// signing per call.
func NewStoragePresigner(profiles ProfileSource, remote, local Presigner) *StoragePresigner {
	return &StoragePresigner{profiles: profiles, remote: remote, local: local}
}

func (s *StoragePresigner) RequestPresignedURL(ctx context.Context, mode, key string) (cloud.PresignResult, error) {
	if s.local != nil && s.profiles.Active().Storage != nil {
		return s.local.RequestPresignedURL(ctx, mode, key)
	}
	return s.remote.RequestPresignedURL(ctx, mode, key)
}
