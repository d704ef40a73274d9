// Package ratelimit bounds how often one actor may call an endpoint, using a
// sliding window kept in memory or in Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result is the outcome of one check against a window.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a denied caller should wait, rounded up to a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	wait := r.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// Store records hits and counts them over the trailing window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_ratelimit_decisions_total",
			Help: "Rate limit checks, by limiter and outcome",
		}, []string{"limiter", "outcome"}),
	}
}

// Limiter applies one limit to every key under a name.
type Limiter struct {
	store   Store
	name    string
	limit   int
	window  time.Duration
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Limiter)

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(store Store, name string, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		name:   name,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	res, err := l.store.Allow(ctx, l.name+":"+key, l.limit, l.window, l.now())
	if err != nil {
		l.count("error")
		return Result{}, err
	}
	if res.Allowed {
		l.count("allowed")
	} else {
		l.count("denied")
	}
	return res, nil
}

func (l *Limiter) count(outcome string) {
	if l.metrics != nil {
		l.metrics.Decisions.WithLabelValues(l.name, outcome).Inc()
	}
}
