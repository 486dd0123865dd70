package api

import (
	"time"

	"github.com/heimdex/denoise-agent/internal/pipeline"
	"github.com/heimdex/denoise-agent/internal/profile"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string          `json:"state"`
	File          string          `json:"file,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Stage         string          `json:"stage,omitempty"`
	Percent       int             `json:"percent"`
	Completed     int             `json:"completed"`
	BatchTotal    int             `json:"batch_total"`
	LastStatus    string          `json:"last_status,omitempty"`
	LastMessage   string          `json:"last_message,omitempty"`
	LastElapsedMs int64           `json:"last_elapsed_ms,omitempty"`
	Running       bool            `json:"running"`
	Profile       string          `json:"profile"`
	Remote        *RemoteResponse `json:"remote,omitempty"`
	LastBatch     *BatchResponse  `json:"last_batch,omitempty"`
}

// BatchResponse summarizes the most recently finished batch.
type BatchResponse struct {
	BatchID   string   `json:"batch_id"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Canceled  bool     `json:"canceled"`
	RunIDs    []string `json:"run_ids"`
}

type RemoteResponse struct {
	Healthy   bool   `json:"healthy"`
	CheckedAt string `json:"checked_at"`
}

type ProfileResponse struct {
	Name         string           `json:"name"`
	Active       bool             `json:"active"`
	APIBase      string           `json:"api_base"`
	GrpcEndpoint string           `json:"grpc_endpoint,omitempty"`
	InBucket     string           `json:"in_bucket"`
	OutBucket    string           `json:"out_bucket"`
	LocalPresign bool             `json:"local_presign"`
	Defaults     profile.Defaults `json:"defaults"`
}

type ProfilesResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
}

type SetProfileRequest struct {
	Name string `json:"name"`
}

type StartRunsRequest struct {
	Files []string `json:"files"`
}

type StartRunsResponse struct {
	BatchID string `json:"batch_id"`
	Files   int    `json:"files"`
}

type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

type StepResponse struct {
	Stage     string `json:"stage"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Status    *int   `json:"status,omitempty"`
	Bytes     *int64 `json:"bytes,omitempty"`
}

type RunResponse struct {
	ID            string         `json:"id"`
	StartedAt     string         `json:"started_at"`
	CorrelationID string         `json:"correlation_id"`
	Profile       string         `json:"profile"`
	LocalPath     string         `json:"local_path"`
	InputKey      string         `json:"input_key"`
	OutputKey     string         `json:"output_key"`
	OutputPath    string         `json:"output_path,omitempty"`
	Success       bool           `json:"success"`
	Canceled      bool           `json:"canceled"`
	Error         string         `json:"error,omitempty"`
	TotalMs       int64          `json:"total_ms"`
	Steps         []StepResponse `json:"steps"`
}

type RunsResponse struct {
	Runs      []RunResponse `json:"runs"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
}

type LogLineResponse struct {
	Time          string `json:"time"`
	Level         string `json:"level"`
	Path          string `json:"path"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Text          string `json:"text"`
}

type LogsResponse struct {
	Lines []LogLineResponse `json:"lines"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProfileToResponse(p profile.Profile, active string) ProfileResponse {
	return ProfileResponse{
		Name:         p.Name,
		Active:       p.Name == active,
		APIBase:      p.APIBase,
		GrpcEndpoint: p.GrpcEndpoint,
		InBucket:     p.InBucket,
		OutBucket:    p.OutBucket,
		LocalPresign: p.Storage != nil,
		Defaults:     p.Defaults,
	}
}

func BatchToResponse(id string, res pipeline.BatchResult) *BatchResponse {
	resp := &BatchResponse{
		BatchID:   id,
		Total:     res.Total,
		Completed: res.Completed,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Canceled:  res.Canceled,
		RunIDs:    make([]string, 0, len(res.Runs)),
	}
	for _, rec := range res.Runs {
		resp.RunIDs = append(resp.RunIDs, rec.ID)
	}
	return resp
}

func RunToResponse(rec *pipeline.RunRecord) RunResponse {
	resp := RunResponse{
		ID:            rec.ID,
		StartedAt:     rec.StartedAt.UTC().Format(time.RFC3339Nano),
		CorrelationID: rec.CorrelationID,
		Profile:       rec.Profile,
		LocalPath:     rec.LocalPath,
		InputKey:      rec.InputKey,
		OutputKey:     rec.OutputKey,
		OutputPath:    rec.OutputPath,
		Success:       rec.Success,
		Canceled:      rec.Canceled,
		Error:         rec.Error,
		TotalMs:       rec.Total.Milliseconds(),
		Steps:         make([]StepResponse, len(rec.Steps)),
	}
	for i, st := range rec.Steps {
		resp.Steps[i] = StepResponse{
			Stage:     st.Stage,
			ElapsedMs: st.Elapsed.Milliseconds(),
			Status:    st.Status,
			Bytes:     st.Bytes,
		}
	}
	return resp
}

func LineToResponse(l pipeline.Line) LogLineResponse {
	return LogLineResponse{
		Time:          l.Time.Format(time.RFC3339Nano),
		Level:         l.Level,
		Path:          l.Path,
		CorrelationID: l.CorrelationID,
		Text:          l.String(),
	}
}
