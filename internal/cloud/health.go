package cloud

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/denoise-agent/internal/profile"
)

// HealthTimeout bounds a single health probe.
const HealthTimeout = 1500 * time.Millisecond

// HealthClient probes the health endpoint of a profile.
type HealthClient struct {
	profiles   ProfileSource
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// NewHealthClient probes the health path of each profile.
func NewHealthClient(profiles ProfileSource, httpClient *http.Client, logger *slog.Logger) *HealthClient {
	return &HealthClient{profiles: profiles, httpClient: httpClient, logger: logger, timeout: HealthTimeout}
}

// Check probes the active profile.
func (c *HealthClient) Check(ctx context.Context) bool {
	return c.CheckProfile(ctx, c.profiles.Active())
}

// CheckProfile reports true only for a 2xx answer whose JSON status is "ok"
// (any case). Every failure is reported as false.
func (c *HealthClient) CheckProfile(ctx context.Context, p profile.Profile) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.HealthURL(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("health probe failed", "profile", p.Name, "error", err)
		return false
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return false
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
		return false
	}
	return strings.EqualFold(body.Status, "ok")
}

// HealthAll probes every profile concurrently.
func (c *HealthClient) HealthAll(ctx context.Context, profiles []profile.Profile) map[string]bool {
	out := make(map[string]bool, len(profiles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, p := range profiles {
		g.Go(func() error {
			ok := c.CheckProfile(gctx, p)
			mu.Lock()
			out[p.Name] = ok
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

// HealthStatus is a cached probe result.
type HealthStatus struct {
	Profile   string    `json:"profile"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
}

// CachedHealth remembers the last probe of the active profile for a TTL.
type CachedHealth struct {
	client *HealthClient
	ttl    time.Duration

	mu   sync.RWMutex
	last *HealthStatus
}

// NewCachedHealth keeps probe results for ttl.
func NewCachedHealth(client *HealthClient, ttl time.Duration) *CachedHealth {
	return &CachedHealth{client: client, ttl: ttl}
}

// Get returns the cached status when it is fresh and for the same profile,
// probing otherwise.
func (c *CachedHealth) Get(ctx context.Context) HealthStatus {
	name := c.client.profiles.Active().Name

	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()

	if last != nil && last.Profile == name && time.Since(last.CheckedAt) < c.ttl {
		return *last
	}
	return c.Refresh(ctx)
}

// Refresh probes now and replaces the cache.
func (c *CachedHealth) Refresh(ctx context.Context) HealthStatus {
	p := c.client.profiles.Active()
	st := HealthStatus{
		Profile:   p.Name,
		Healthy:   c.client.CheckProfile(ctx, p),
		CheckedAt: time.Now(),
	}

	c.mu.Lock()
	c.last = &st
	c.mu.Unlock()

	return st
}
