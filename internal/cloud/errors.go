package cloud

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPresignResponse means the presign body was neither an
	// absolute URL nor JSON carrying a non-empty url.
	ErrInvalidPresignResponse = errors.New("invalid presign response")
)

// ValidationError reports required input missing before a call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// PresignError is returned when a presign request fails or its response
// cannot be used.
type PresignError struct {
	Mode       string
	Key        string
	StatusCode int
	Body       string
	Err        error
}

func (e *PresignError) Error() string {
	if e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode >= 300) {
		return fmt.Sprintf("presign %s %q failed: HTTP %d: %s", e.Mode, e.Key, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("presign %s %q failed: %v", e.Mode, e.Key, e.Err)
}

func (e *PresignError) Unwrap() error { return e.Err }

// TransferError represents a failed upload or download.
type TransferError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *TransferError) Unwrap() error { return e.Err }

// canceled returns a wrapped context.Canceled when ctx was cancelled by the
// caller, or nil when err is some other failure.
func canceled(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
