package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

const lineLogHeader = "ts,level,path,elapsed_ms,http_status,bytes,message"

// DefaultLineCapacity is the number of recent lines kept in memory.
const DefaultLineCapacity = 500

// LineSink keeps the most recent run log lines for display, mirrors them to
// slog and, when dir is set, appends them to runlog_YYYYMMDD.csv.
type LineSink struct {
	logger *slog.Logger
	dir    string
	now    func() time.Time

	mu   sync.Mutex
	ring []pipeline.Line
	next int
	full bool

	fileMu sync.Mutex
}

func NewLineSink(capacity int, dir string, logger *slog.Logger) *LineSink {
	if capacity <= 0 {
		capacity = DefaultLineCapacity
	}
	return &LineSink{logger: logger, dir: dir, now: time.Now, ring: make([]pipeline.Line, capacity)}
}

func (s *LineSink) RecordLine(line pipeline.Line) {
	s.mu.Lock()
	s.ring[s.next] = line
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()

	attrs := []any{"path", line.Path, "correlation_id", line.CorrelationID}
	if line.Status != nil {
		attrs = append(attrs, "status", *line.Status)
	}
	switch line.Level {
	case pipeline.LevelError:
		s.logger.Error(line.Message, attrs...)
	case pipeline.LevelWarn:
		s.logger.Warn(line.Message, attrs...)
	default:
		s.logger.Info(line.Message, attrs...)
	}

	if s.dir != "" {
		if err := s.appendCSV(line); err != nil {
			s.logger.Warn("run log append failed", "error", err)
		}
	}
}

func (s *LineSink) RecordRun(context.Context, pipeline.RunRecord) error { return nil }

// Recent returns up to n of the newest lines, oldest first. n <= 0 returns
// everything kept.
func (s *LineSink) Recent(n int) []pipeline.Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pipeline.Line
	if s.full {
		out = append(out, s.ring[s.next:]...)
	}
	out = append(out, s.ring[:s.next]...)

	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (s *LineSink) appendCSV(line pipeline.Line) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	path := filepath.Join(s.dir, "runlog_"+s.now().UTC().Format("20060102")+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	var sb strings.Builder
	if st.Size() == 0 {
		sb.WriteString(lineLogHeader + "\n")
	}

	elapsed, status, bytes := "", "", ""
	if line.Elapsed != nil {
		elapsed = strconv.FormatFloat(float64(line.Elapsed.Microseconds())/1000, 'f', -1, 64)
	}
	if line.Status != nil {
		status = strconv.Itoa(*line.Status)
	}
	if line.Bytes != nil {
		bytes = strconv.FormatInt(*line.Bytes, 10)
	}
	fmt.Fprintf(&sb, "%s,%s,%s,%s,%s,%s,%s\n",
		quote(line.Time.Format(time.RFC3339Nano)),
		quote(line.Level),
		quote(line.Path),
		elapsed, status, bytes,
		quote(line.Message),
	)

	_, err = f.WriteString(sb.String())
	return err
}
