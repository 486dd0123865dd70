package audit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

// MetricsSink exports run outcomes, stage durations and transferred bytes.
type MetricsSink struct {
	runs     *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	statuses *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

// NewMetricsSink registers the collectors with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	m := &MetricsSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denoise",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"profile", "outcome"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "denoise",
			Name:      "stage_duration_seconds",
			Help:      "Duration of executed pipeline stages.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denoise",
			Name:      "stage_status_total",
			Help:      "Status codes returned by pipeline stages.",
		}, []string{"stage", "code"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denoise",
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved to and from object storage.",
		}, []string{"direction"}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.stages, m.statuses, m.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsSink) RecordLine(pipeline.Line) {}

func (m *MetricsSink) RecordRun(_ context.Context, rec pipeline.RunRecord) error {
	m.runs.WithLabelValues(rec.Profile, outcome(rec)).Inc()

	for _, st := range rec.Steps {
		m.stages.WithLabelValues(st.Stage).Observe(st.Elapsed.Seconds())
		if st.Status != nil {
			m.statuses.WithLabelValues(st.Stage, statusClass(*st.Status)).Inc()
		}
		if st.Bytes == nil {
			continue
		}
		switch st.Stage {
		case pipeline.StageUpload:
			m.bytes.WithLabelValues("up").Add(float64(*st.Bytes))
		case pipeline.StageDownload:
			m.bytes.WithLabelValues("down").Add(float64(*st.Bytes))
		}
	}
	return nil
}

func outcome(rec pipeline.RunRecord) string {
	switch {
	case rec.Success:
		return "success"
	case rec.Canceled:
		return "canceled"
	default:
		return "failure"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
