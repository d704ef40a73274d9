// Package readiness checks that infrastructure dependencies respond before the
// service accepts traffic.
package readiness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// Pingable is one dependency that can be checked.
type Pingable interface {
	Name() string
	Description() string
	Ping(ctx context.Context) error
}

// Result is the outcome of one check.
type Result struct {
	Name        string
	Description string
	Err         error
	Duration    time.Duration
}

func (r Result) Healthy() bool { return r.Err == nil }

// Line renders the result as a single status line.
func (r Result) Line() string {
	if r.Err != nil {
		return fmt.Sprintf("❌ %s is not accessible: %v", r.Name, r.Err)
	}
	return fmt.Sprintf("✅ %s is healthy (%s)", r.Name, r.Description)
}

// Report holds every result in registration order.
type Report struct {
	Results []Result
}

func (r Report) Healthy() bool {
	for _, res := range r.Results {
		if !res.Healthy() {
			return false
		}
	}
	return true
}

func (r Report) Lines() []string {
	lines := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		lines = append(lines, res.Line())
	}
	return lines
}

// Summary is the closing line of a report.
func (r Report) Summary() string {
	if r.Healthy() {
		return "✅ All services are healthy and ready!"
	}
	return "❌ Some services are not healthy"
}

func (r Report) String() string {
	return strings.Join(append(r.Lines(), r.Summary()), "\n")
}

// Checker pings every registered dependency concurrently.
type Checker struct {
	checks  []Pingable
	timeout time.Duration
	status  *prometheus.GaugeVec
}

type Option func(*Checker)

// WithTimeout bounds each individual ping.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRegisterer exports a per-dependency up gauge.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Checker) {
		c.status = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "case_notes_dependency_up",
			Help: "1 when the dependency answered its last readiness ping",
		}, []string{"dependency"})
	}
}

// New skips nil checks so optional dependencies can be passed unconditionally.
func New(checks []Pingable, opts ...Option) *Checker {
	c := &Checker{timeout: 3 * time.Second}
	for _, p := range checks {
		if p != nil {
			c.checks = append(c.checks, p)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll runs every check and always reports all of them; one failure does
// not cancel the others.
func (c *Checker) CheckAll(ctx context.Context) Report {
	results := make([]Result, len(c.checks))
	var g errgroup.Group
	for i, p := range c.checks {
		g.Go(func() error {
			start := time.Now()
			pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			err := p.Ping(pingCtx)
			results[i] = Result{
				Name:        p.Name(),
				Description: p.Description(),
				Err:         err,
				Duration:    time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	if c.status != nil {
		for _, r := range results {
			up := 0.0
			if r.Healthy() {
				up = 1
			}
			c.status.WithLabelValues(r.Name).Set(up)
		}
	}
	return Report{Results: results}
}
