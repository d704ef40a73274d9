package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
)

// Metrics tracks lifecycle transitions and the decisions that drive them.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	GateDecisions      *prometheus.CounterVec
	ReviewDecisions    *prometheus.CounterVec
	RejectedTransition *prometheus.CounterVec
	Duration           *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_transitions_total",
			Help: "Case note state transitions by target state",
		}, []string{"state"}),
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_gate_decisions_total",
			Help: "Confidence gate outcomes",
		}, []string{"decision"}),
		ReviewDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_review_decisions_total",
			Help: "Review decisions recorded",
		}, []string{"decision"}),
		RejectedTransition: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_stale_transitions_total",
			Help: "Transitions refused because the note had already moved on",
		}, []string{"operation"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "case_notes_transition_duration_seconds",
			Help:    "Duration of lifecycle operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) transition(state models.State) {
	if m != nil {
		m.Transitions.WithLabelValues(string(state)).Inc()
	}
}

func (m *Metrics) gateDecision(d gate.Decision) {
	if m != nil {
		m.GateDecisions.WithLabelValues(string(d)).Inc()
	}
}

func (m *Metrics) reviewDecision(d models.ReviewDecision) {
	if m != nil {
		m.ReviewDecisions.WithLabelValues(string(d)).Inc()
	}
}

func (m *Metrics) stale(operation string) {
	if m != nil {
		m.RejectedTransition.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) observe(operation string, start time.Time) {
	if m != nil {
		m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
