package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/denoise-agent/internal/audit"
	"github.com/heimdex/denoise-agent/internal/cloud"
	"github.com/heimdex/denoise-agent/internal/output"
	"github.com/heimdex/denoise-agent/internal/pipeline"
	"github.com/heimdex/denoise-agent/internal/profile"
)

// ProfileSwitcher exposes the configured profiles and the active one.
type ProfileSwitcher interface {
	Active() profile.Profile
	Names() []string
	Get(name string) (profile.Profile, error)
	SetActive(name string) (profile.Profile, error)
}

// BatchRunner runs one batch of files at a time in the background.
type BatchRunner interface {
	Start(ctx context.Context, files []string) (string, error)
	Cancel() bool
	IsRunning() bool
	Last() (string, pipeline.BatchResult, bool)
}

type StatusSource interface {
	Snapshot() pipeline.Snapshot
}

type HealthSource interface {
	Get(ctx context.Context) cloud.HealthStatus
}

type LineSource interface {
	Recent(n int) []pipeline.Line
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Version   string
	StartTime time.Time
	Logger    *slog.Logger

	// BaseContext parents background batches; it outlives single requests.
	BaseContext context.Context

	Store    ConfigStore
	Profiles ProfileSwitcher
	Runner   BatchRunner
	Status   StatusSource
	Health   HealthSource
	Runs     audit.Repository
	Lines    LineSource
	Output   output.FileServer
	Metrics  http.Handler
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
