// Package pipeline sequences presign, upload, invoke, presign and download
// for one file or a batch of files and hands every run to an audit sink.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/heimdex/denoise-agent/internal/cloud"
	"github.com/heimdex/denoise-agent/internal/profile"
)

// State is a position in the per-file pipeline.
type State string

const (
	StateIdle               State = "idle"
	StatePresigningUpload   State = "presigning_upload"
	StateUploading          State = "uploading"
	StateInvoking           State = "invoking"
	StatePresigningDownload State = "presigning_download"
	StateDownloading        State = "downloading"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Stage names as they appear in StepTiming and the audit trail.
const (
	StagePresignUpload   = "presign_upload"
	StageUpload          = "upload"
	StageInvoke          = "invoke"
	StagePresignDownload = "presign_download"
	StageDownload        = "download"
)

// Stages lists every stage in pipeline order.
var Stages = []string{StagePresignUpload, StageUpload, StageInvoke, StagePresignDownload, StageDownload}

// Terminal status labels reported to observers.
const (
	StatusSuccess = "Success"
	StatusFail    = "Fail"
)

// StepTiming is the measurement of one executed stage.
type StepTiming struct {
	Stage   string        `json:"stage"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Status  *int          `json:"status,omitempty"`
	Bytes   *int64        `json:"bytes,omitempty"`
}

// RunRecord is the audit record of one file run. It is finalized once and
// not modified after being handed to the sink.
type RunRecord struct {
	ID            string        `json:"id"`
	StartedAt     time.Time     `json:"started_at"`
	CorrelationID string        `json:"correlation_id"`
	Profile       string        `json:"profile"`
	LocalPath     string        `json:"local_path"`
	InputKey      string        `json:"input_key"`
	OutputKey     string        `json:"output_key"`
	OutputPath    string        `json:"output_path,omitempty"`
	Steps         []StepTiming  `json:"steps"`
	Success       bool          `json:"success"`
	Canceled      bool          `json:"canceled"`
	Error         string        `json:"error,omitempty"`
	Total         time.Duration `json:"total_ns"`
}

// Step returns the timing recorded for stage, if that stage ran.
func (r RunRecord) Step(stage string) (StepTiming, bool) {
	for _, s := range r.Steps {
		if s.Stage == stage {
			return s, true
		}
	}
	return StepTiming{}, false
}

func (r *RunRecord) add(stage string, elapsed time.Duration, status *int, bytes *int64) {
	r.Steps = append(r.Steps, StepTiming{Stage: stage, Elapsed: elapsed, Status: status, Bytes: bytes})
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// ProfileSource supplies the active profile.
type ProfileSource interface {
	Active() profile.Profile
}

// Presigner obtains method-bound URLs for object keys.
type Presigner interface {
	RequestPresignedURL(ctx context.Context, mode, key string) (cloud.PresignResult, error)
}

// Transferrer moves object bytes through presigned URLs.
type Transferrer interface {
	Upload(ctx context.Context, url, localPath string, onProgress cloud.ProgressFunc) (int, int64, error)
	ContentLength(ctx context.Context, url string) (int64, error)
	Download(ctx context.Context, url, destPath string, onProgress cloud.ProgressFunc) (int, int64, error)
}

// Invoker sends the processing request. Failures other than cancellation
// come back as a status and a JSON error payload.
type Invoker interface {
	Invoke(ctx context.Context, body any, correlationID string) (int, json.RawMessage, error)
}

// AuditSink receives stage lines and one record per finished run.
type AuditSink interface {
	RecordLine(line Line)
	RecordRun(ctx context.Context, rec RunRecord) error
}

// EventKind distinguishes observer events.
type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
	EventBatch    EventKind = "batch"
)

// Event is a progress or status notification.
type Event struct {
	Kind          EventKind
	CorrelationID string
	File          string
	State         State
	Stage         string

	// Bytes is cumulative for the current stage; Total is 0 when unknown
	// and Percent is -1 in that case.
	Bytes   int64
	Total   int64
	Percent int

	Completed  int
	BatchTotal int

	Status  string
	Message string
	Elapsed time.Duration
}

// Observer receives events in the order they happen.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

type nopSink struct{}

func (nopSink) RecordLine(Line)                            {}
func (nopSink) RecordRun(context.Context, RunRecord) error { return nil }
