package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

// CSVHeader is the first line of every run file.
const CSVHeader = "started_at,correlation_id,input_key,output_key,success,error," +
	"t_presign_up_ms,t_upload_ms,t_invoke_ms,t_presign_down_ms,t_download_ms," +
	"st_presign_up,st_upload,st_invoke,st_presign_down,st_download," +
	"bytes_up,bytes_down,total_ms"

// CSVSink appends one row per run to runs_YYYYMMDD.csv, one file per UTC
// day. Writers are serialized so rows never interleave.
type CSVSink struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	return &CSVSink{dir: dir, now: time.Now}, nil
}

// Path returns the file that rows written at t go to.
func (s *CSVSink) Path(t time.Time) string {
	return filepath.Join(s.dir, "runs_"+t.UTC().Format("20060102")+".csv")
}

func (s *CSVSink) RecordLine(pipeline.Line) {}

func (s *CSVSink) RecordRun(_ context.Context, rec pipeline.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(s.now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat run log: %w", err)
	}

	var sb strings.Builder
	if st.Size() == 0 {
		sb.WriteString(CSVHeader)
		sb.WriteByte('\n')
	}
	sb.WriteString(FormatRow(rec))
	sb.WriteByte('\n')

	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// FormatRow renders rec as one CSV line without the trailing newline.
// String cells are always quoted; cells of stages that did not run are empty.
func FormatRow(rec pipeline.RunRecord) string {
	cells := []string{
		quote(rec.StartedAt.UTC().Format(time.RFC3339Nano)),
		quote(rec.CorrelationID),
		quote(rec.InputKey),
		quote(rec.OutputKey),
		strconv.FormatBool(rec.Success),
		quote(rec.Error),
	}

	for _, stage := range pipeline.Stages {
		if ms, ok := elapsedMs(rec, stage); ok {
			cells = append(cells, strconv.FormatInt(ms, 10))
		} else {
			cells = append(cells, "")
		}
	}
	for _, stage := range pipeline.Stages {
		st, ok := rec.Step(stage)
		if ok && st.Status != nil {
			cells = append(cells, strconv.Itoa(*st.Status))
		} else {
			cells = append(cells, "")
		}
	}

	cells = append(cells,
		bytesCell(rec, pipeline.StageUpload),
		bytesCell(rec, pipeline.StageDownload),
		strconv.FormatInt(rec.Total.Milliseconds(), 10),
	)
	return strings.Join(cells, ",")
}

func bytesCell(rec pipeline.RunRecord, stage string) string {
	st, ok := rec.Step(stage)
	if !ok || st.Bytes == nil {
		return ""
	}
	return strconv.FormatInt(*st.Bytes, 10)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
