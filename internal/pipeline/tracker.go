package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Snapshot is the tracker's view of the pipeline at one instant.
type Snapshot struct {
	State         State         `json:"state"`
	File          string        `json:"file,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Stage         string        `json:"stage,omitempty"`
	Bytes         int64         `json:"bytes"`
	Total         int64         `json:"total"`
	Percent       int           `json:"percent"`
	Completed     int           `json:"completed"`
	BatchTotal    int           `json:"batch_total"`
	Status        string        `json:"status,omitempty"`
	Message       string        `json:"message,omitempty"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Summary is a one-line description of the snapshot for status displays.
func (s Snapshot) Summary() string {
	var sb strings.Builder
	switch s.State {
	case StateIdle, "":
		sb.WriteString("Idle")
	case StateCompleted, StateFailed:
		if s.Status != "" {
			fmt.Fprintf(&sb, "%s (%.2fs)", s.Status, s.Elapsed.Seconds())
		} else {
			sb.WriteString(string(s.State))
		}
	default:
		sb.WriteString(strings.ReplaceAll(string(s.State), "_", " "))
		if s.Percent >= 0 && s.Stage != "" {
			fmt.Fprintf(&sb, " %d%%", s.Percent)
		}
	}
	if s.BatchTotal > 1 {
		fmt.Fprintf(&sb, " [%d/%d]", s.Completed, s.BatchTotal)
	}
	return sb.String()
}

// Tracker keeps the latest state and terminal status for display.
type Tracker struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners []func(Snapshot)
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle, Percent: -1}}
}

// Subscribe registers fn to be called with every new snapshot.
func (t *Tracker) Subscribe(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) OnEvent(e Event) {
	t.mu.Lock()
	s := t.snap
	switch e.Kind {
	case EventState:
		if e.State == StatePresigningUpload {
			s.Status, s.Message, s.Elapsed = "", "", 0
		}
		s.State = e.State
		s.File = e.File
		s.CorrelationID = e.CorrelationID
		s.Stage = ""
		s.Bytes, s.Total, s.Percent = 0, 0, -1
	case EventProgress:
		s.Stage = e.Stage
		s.Bytes, s.Total, s.Percent = e.Bytes, e.Total, e.Percent
	case EventFinished:
		s.State = e.State
		s.Status = e.Status
		s.Message = e.Message
		s.Elapsed = e.Elapsed
	case EventBatch:
		s.Completed = e.Completed
		s.BatchTotal = e.BatchTotal
	}
	s.UpdatedAt = time.Now()
	t.snap = s
	listeners := t.listeners
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Observers fans events out to several observers.
type Observers []Observer

func (obs Observers) OnEvent(e Event) {
	for _, o := range obs {
		o.OnEvent(e)
	}
}
