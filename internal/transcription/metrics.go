package transcription

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Dispatches *prometheus.CounterVec
	Attempts   prometheus.Counter
	Outcomes   *prometheus.CounterVec
	InFlight   prometheus.Gauge
	Latency    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_dispatches_total",
			Help: "Dispatch requests by result (started, duplicate)",
		}, []string{"result"}),
		Attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "transcription_attempts_total",
			Help: "Requests submitted to the recognition service",
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_outcomes_total",
			Help: "Terminal dispatch outcomes",
		}, []string{"outcome"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_in_flight",
			Help: "Dispatches awaiting a result in this process",
		}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcription_duration_seconds",
			Help:    "Time from dispatch to terminal outcome",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

func (m *Metrics) dispatch(result string) {
	if m != nil {
		m.Dispatches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) attempt() {
	if m != nil {
		m.Attempts.Inc()
	}
}

func (m *Metrics) inFlight(delta float64) {
	if m != nil {
		m.InFlight.Add(delta)
	}
}

func (m *Metrics) outcome(outcome string, start time.Time) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
		m.Latency.Observe(time.Since(start).Seconds())
	}
}
