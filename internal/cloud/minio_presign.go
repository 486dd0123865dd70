package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/heimdex/denoise-agent/internal/logging"
	"github.com/heimdex/denoise-agent/internal/profile"
)

var errNoStorage = errors.New("profile has no Storage block")

// MinioPresigner signs upload and download URLs locally with the profile's
// storage credentials. Uploads go to InBucket and downloads come from
// OutBucket.
type MinioPresigner struct {
	profiles ProfileSource
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*minio.Client
}

// NewMinioPresigner signs URLs with the active profile's storage credentials.
func NewMinioPresigner(profiles ProfileSource, logger *slog.Logger) *MinioPresigner {
	return &MinioPresigner{profiles: profiles, logger: logger, clients: make(map[string]*minio.Client)}
}

func (m *MinioPresigner) RequestPresignedURL(ctx context.Context, mode, key string) (PresignResult, error) {
	if err := validateMode(mode, key); err != nil {
		return PresignResult{}, err
	}

	p := m.profiles.Active()
	if p.Storage == nil {
		return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: errNoStorage}
	}

	client, err := m.client(p)
	if err != nil {
		return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: err}
	}

	var (
		bucket string
		method = DefaultMethod(mode)
	)
	if mode == ModeUpload {
		bucket = p.InBucket
	} else {
		bucket = p.OutBucket
	}

	var signed string
	switch method {
	case http.MethodPut:
		u, err := client.PresignedPutObject(ctx, bucket, key, p.Storage.Expiry)
		if err != nil {
			return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: fmt.Errorf("presign put: %w", err)}
		}
		signed = u.String()
	default:
		u, err := client.PresignedGetObject(ctx, bucket, key, p.Storage.Expiry, nil)
		if err != nil {
			return PresignResult{}, &PresignError{Mode: mode, Key: key, Err: fmt.Errorf("presign get: %w", err)}
		}
		signed = u.String()
	}

	m.logger.Debug("presigned url signed locally",
		"mode", mode,
		"bucket", bucket,
		"key", key,
		"url", logging.SanitizeURL(signed),
	)
	return PresignResult{URL: signed, Method: method}, nil
}

func (m *MinioPresigner) client(p profile.Profile) (*minio.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := p.Storage
	cacheKey := p.Name + "|" + st.Endpoint + "|" + st.AccessKey
	if c, ok := m.clients[cacheKey]; ok {
		return c, nil
	}

	// Region is always set so signing never has to look up the bucket location.
	c, err := minio.New(st.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(st.AccessKey, st.SecretKey, ""),
		Secure: st.UseSSL,
		Region: st.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	m.clients[cacheKey] = c
	return c, nil
}
