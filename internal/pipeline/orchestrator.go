package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/denoise-agent/internal/cloud"
	"github.com/heimdex/denoise-agent/internal/logging"
	"github.com/heimdex/denoise-agent/internal/request"
)

// Config holds the orchestrator's collaborators and settings.
type Config struct {
	Profiles  ProfileSource
	Presigner Presigner
	Transfer  Transferrer
	Invoker   Invoker
	Sink      AuditSink     // nil = discard
	Observer  Observer      // nil = discard
	Logger    *slog.Logger

	DownloadRoot string
	Account      string         // object key prefix; empty = active profile name
	Fields       request.Fields // overrides of the profile defaults
	ProbeTIFF    bool           // take width/height from TIFF headers
}

// Orchestrator runs files through the five stages.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	correlationID string
}

// New returns an Orchestrator; a nil Sink or Observer discards.
func New(cfg Config) *Orchestrator {
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Orchestrator{
		cfg:           cfg,
		logger:        logging.WithComponent(cfg.Logger, "pipeline"),
		now:           time.Now,
		correlationID: NewCorrelationID(),
	}
}

// NewCorrelationID returns 32 lower-case hex characters.
func NewCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CorrelationID returns the id the next run will use.
func (o *Orchestrator) CorrelationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.correlationID
}

// claimID hands out the current id and rotates it so no two runs share one.
func (o *Orchestrator) claimID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.correlationID
	o.correlationID = NewCorrelationID()
	return id
}

// Run processes one local file. The returned record is finalized and has
// already been handed to the sink, whatever the outcome. A cancelled run
// returns an error wrapping context.Canceled.
func (o *Orchestrator) Run(ctx context.Context, localPath string) (rec RunRecord, err error) {
	p := o.cfg.Profiles.Active()
	id := o.claimID()
	start := o.now()
	logger := logging.WithCorrelationID(o.logger, id)

	rec = RunRecord{
		ID:            uuid.NewString(),
		StartedAt:     start.UTC(),
		CorrelationID: id,
		Profile:       p.Name,
		LocalPath:     localPath,
	}

	defer func() {
		rec.Total = o.now().Sub(start)
		rec.Success = err == nil
		if err != nil {
			rec.Error = err.Error()
			rec.Canceled = errors.Is(err, context.Canceled)
			o.state(rec, StateFailed)
			o.line(id, LevelError, "run", "run failed: "+rec.Error, &rec.Total, nil, nil)
			o.cfg.Observer.OnEvent(Event{
				Kind: EventFinished, CorrelationID: id, File: localPath, State: StateFailed,
				Status: StatusFail, Message: rec.Error, Elapsed: rec.Total,
			})
			logger.Warn("run failed", "error", err, "canceled", rec.Canceled, "steps", len(rec.Steps))
		} else {
			o.state(rec, StateCompleted)
			o.line(id, LevelInfo, "run", "run completed", &rec.Total, nil, nil)
			o.cfg.Observer.OnEvent(Event{
				Kind: EventFinished, CorrelationID: id, File: localPath, State: StateCompleted,
				Status: StatusSuccess, Message: rec.OutputPath, Elapsed: rec.Total,
			})
			logger.Info("run completed", "output_key", rec.OutputKey, "elapsed", rec.Total)
		}

		// The audit write must survive the run's own cancellation.
		if serr := o.cfg.Sink.RecordRun(context.WithoutCancel(ctx), rec); serr != nil {
			logger.Error("failed to record run", "error", serr)
		}
	}()

	fileName, err := validateFile(localPath)
	if err != nil {
		return rec, err
	}

	account := o.cfg.Account
	if account == "" {
		account = p.Name
	}
	key := request.ObjectKey(account, fileName)
	if key == "" {
		return rec, &cloud.ValidationError{Field: "object_key", Message: "account or file name is empty"}
	}
	rec.InputKey = key
	rec.OutputKey = key

	logger.Info("run started", "profile", p.Name, "key", key, "file", logging.SanitizePath(localPath))

	// presign upload
	o.state(rec, StatePresigningUpload)
	t0 := o.now()
	up, err := o.cfg.Presigner.RequestPresignedURL(ctx, cloud.ModeUpload, key)
	elapsed := o.now().Sub(t0)
	if err != nil {
		rec.add(StagePresignUpload, elapsed, presignStatus(err), nil)
		return rec, fmt.Errorf("presign upload: %w", err)
	}
	rec.add(StagePresignUpload, elapsed, intPtr(200), nil)
	o.line(id, LevelInfo, StagePresignUpload, "upload url issued", &elapsed, intPtr(200), nil)

	// upload
	o.state(rec, StateUploading)
	var size int64
	if st, serr := os.Stat(localPath); serr == nil {
		size = st.Size()
	}
	t0 = o.now()
	status, sent, err := o.cfg.Transfer.Upload(ctx, up.URL, localPath, o.progress(rec, StageUpload, size))
	elapsed = o.now().Sub(t0)
	rec.add(StageUpload, elapsed, optionalStatus(status), int64Ptr(sent))
	if err != nil {
		return rec, err
	}
	if status < 200 || status >= 300 {
		logging.WithStage(logger, StageUpload).Warn("upload returned non-success status", "status", status)
		o.line(id, LevelWarn, StageUpload, "upload returned non-success status", &elapsed, &status, &sent)
	} else {
		o.line(id, LevelInfo, StageUpload, fmt.Sprintf("uploaded %d bytes", sent), &elapsed, &status, &sent)
	}

	// invoke
	o.state(rec, StateInvoking)
	fields := o.cfg.Fields
	if o.cfg.ProbeTIFF {
		sized, ok, perr := request.WithImageSize(fields, localPath)
		switch {
		case perr != nil:
			logging.WithStage(logger, StageInvoke).Warn("tiff size probe failed", "error", perr)
		case ok:
			fields = sized
		}
	}
	_, body := request.BuildRequest(p, account, fileName, fields, "")

	t0 = o.now()
	status, resp, err := o.cfg.Invoker.Invoke(ctx, body, id)
	elapsed = o.now().Sub(t0)
	rec.add(StageInvoke, elapsed, optionalStatus(status), nil)
	if err != nil {
		return rec, fmt.Errorf("invoke: %w", err)
	}
	if status < 200 || status >= 300 {
		o.line(id, LevelWarn, StageInvoke, "invoke returned "+string(resp), &elapsed, &status, nil)
	} else {
		o.line(id, LevelInfo, StageInvoke, "invoke completed", &elapsed, &status, nil)
	}

	if k, src, ok := request.PickOutputKey(resp); ok {
		if k != rec.OutputKey {
			logging.WithStage(logger, StageInvoke).Info("output key taken from response", "source", src, "output_key", k)
		}
		rec.OutputKey = k
	}

	// presign download
	o.state(rec, StatePresigningDownload)
	t0 = o.now()
	down, err := o.cfg.Presigner.RequestPresignedURL(ctx, cloud.ModeDownload, rec.OutputKey)
	elapsed = o.now().Sub(t0)
	if err != nil {
		rec.add(StagePresignDownload, elapsed, presignStatus(err), nil)
		return rec, fmt.Errorf("presign download: %w", err)
	}
	rec.add(StagePresignDownload, elapsed, intPtr(200), nil)
	o.line(id, LevelInfo, StagePresignDownload, "download url issued", &elapsed, intPtr(200), nil)

	// download
	dest, err := DownloadPath(o.cfg.DownloadRoot, rec.OutputKey)
	if err != nil {
		return rec, err
	}
	o.state(rec, StateDownloading)
	t0 = o.now()
	total, lerr := o.cfg.Transfer.ContentLength(ctx, down.URL)
	if lerr != nil && errors.Is(lerr, context.Canceled) {
		rec.add(StageDownload, o.now().Sub(t0), nil, nil)
		return rec, lerr
	}
	status, received, err := o.cfg.Transfer.Download(ctx, down.URL, dest, o.progress(rec, StageDownload, total))
	elapsed = o.now().Sub(t0)
	rec.add(StageDownload, elapsed, optionalStatus(status), int64Ptr(received))
	if err != nil {
		return rec, err
	}
	rec.OutputPath = dest
	o.line(id, LevelInfo, StageDownload, fmt.Sprintf("downloaded %d bytes", received), &elapsed, &status, &received)

	return rec, nil
}

func validateFile(localPath string) (string, error) {
	if strings.TrimSpace(localPath) == "" {
		return "", &cloud.ValidationError{Field: "file", Message: "no file selected"}
	}
	name := request.FileNameFromURLOrPath(localPath)
	if name == "" {
		return "", &cloud.ValidationError{Field: "file", Message: "cannot derive file name"}
	}
	st, err := os.Stat(localPath)
	if err != nil {
		return "", &cloud.ValidationError{Field: "file", Message: err.Error()}
	}
	if st.IsDir() {
		return "", &cloud.ValidationError{Field: "file", Message: "is a directory"}
	}
	return name, nil
}

func (o *Orchestrator) state(rec RunRecord, s State) {
	o.cfg.Observer.OnEvent(Event{Kind: EventState, CorrelationID: rec.CorrelationID, File: rec.LocalPath, State: s})
}

// progress reports cumulative bytes; the percentage is computed only when
// total is known.
func (o *Orchestrator) progress(rec RunRecord, stage string, total int64) cloud.ProgressFunc {
	return func(n int64) {
		pct := -1
		if total > 0 {
			pct = int(n * 100 / total)
			if pct > 100 {
				pct = 100
			}
		}
		o.cfg.Observer.OnEvent(Event{
			Kind: EventProgress, CorrelationID: rec.CorrelationID, File: rec.LocalPath,
			Stage: stage, Bytes: n, Total: max(total, 0), Percent: pct,
		})
	}
}

func (o *Orchestrator) line(id, level, path, msg string, elapsed *time.Duration, status *int, bytes *int64) {
	o.cfg.Sink.RecordLine(Line{
		Time:          o.now(),
		Level:         level,
		Path:          path,
		Message:       msg,
		CorrelationID: id,
		Elapsed:       elapsed,
		Status:        status,
		Bytes:         bytes,
	})
}

func optionalStatus(status int) *int {
	if status == 0 {
		return nil
	}
	return intPtr(status)
}

func presignStatus(err error) *int {
	var pe *cloud.PresignError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return intPtr(pe.StatusCode)
	}
	return nil
}
