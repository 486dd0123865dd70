package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrBusy is returned by Start while a batch is in flight.
var ErrBusy = errors.New("a batch is already running")

// Runner executes one batch at a time in the background.
type Runner struct {
	orch   *Orchestrator
	logger *slog.Logger

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	batchID string
	lastID  string
	last    *BatchResult
}

// NewRunner creates a Runner that feeds batches to orch.
func NewRunner(orch *Orchestrator, logger *slog.Logger) *Runner {
	return &Runner{orch: orch, logger: logger}
}

// Start launches files as a batch and returns its id. The batch runs under
// its own context derived from parent; Cancel or parent cancellation stops it.
func (r *Runner) Start(parent context.Context, files []string) (string, error) {
	if r.running.Swap(true) {
		return "", ErrBusy
	}

	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.batchID = id
	r.mu.Unlock()

	r.logger.Info("batch started", "batch_id", id, "files", len(files))

	go func() {
		defer close(done)
		defer r.running.Store(false)
		defer cancel()

		res, err := r.orch.RunBatch(ctx, files)

		r.mu.Lock()
		r.last = &res
		r.lastID = id
		r.mu.Unlock()

		r.logger.Info("batch finished",
			"batch_id", id,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"canceled", res.Canceled,
			"error", err,
		)
	}()

	return id, nil
}

// Cancel stops the running batch. It reports whether one was running.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if !r.running.Load() || cancel == nil {
		return false
	}
	cancel()
	r.logger.Info("batch cancellation requested")
	return true
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Wait blocks until the current batch, if any, has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Last returns the result of the most recently finished batch.
func (r *Runner) Last() (string, BatchResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return "", BatchResult{}, false
	}
	return r.lastID, *r.last, true
}
