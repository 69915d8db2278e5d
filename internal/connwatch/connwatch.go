// Package connwatch watches the clinic's external dependencies (the AI
// service and the database) in the background and logs when one goes
// down or comes back.
//
// A Watcher probes one dependency. While the dependency is down the
// probe interval grows from Backoff.Initial up to Backoff.Max; once it
// is up the watcher polls every Backoff.Interval. The health endpoint
// still probes live; watchers exist so that an outage shows up in the
// logs before a patient hits it.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks whether a dependency is reachable. Return nil if
// healthy. Must be safe for concurrent use.
type Probe func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	Initial  time.Duration // first retry delay after a failure
	Max      time.Duration // ceiling for retry delay growth
	Interval time.Duration // poll interval while healthy
	Timeout  time.Duration // bound on a single probe
}

// DefaultBackoff retries at 2s, 4s, 8s ... capped at one minute, and
// polls a healthy dependency once a minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  2 * time.Second,
		Max:      time.Minute,
		Interval: time.Minute,
		Timeout:  5 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max < b.Initial {
		b.Max = max(d.Max, b.Initial)
	}
	if b.Interval <= 0 {
		b.Interval = d.Interval
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is the last observed state of a dependency.
type Status struct {
	Name     string    `json:"name"`
	Up       bool      `json:"up"`
	Checked  time.Time `json:"checked"`
	Error    string    `json:"error,omitempty"`
	Failures int       `json:"consecutive_failures"`
}

// Watcher monitors one dependency.
type Watcher struct {
	name    string
	probe   Probe
	backoff Backoff
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	status  Status
	checked bool
}

// New creates a watcher. Zero Backoff fields take DefaultBackoff
// values. Call Run to start watching.
func New(name string, probe Probe, b Backoff, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		logger:  logger.With("dependency", name),
		now:     time.Now,
		status:  Status{Name: name},
	}
}

// Run probes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		w.Check(ctx)
		timer.Reset(w.next())
	}
}

// Check probes once, records the outcome, and logs state changes.
func (w *Watcher) Check(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.Timeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	wasUp, first := w.status.Up, !w.checked
	w.checked = true
	w.status.Checked = w.now()
	if err != nil {
		w.status.Up = false
		w.status.Error = err.Error()
		w.status.Failures++
	} else {
		w.status.Up = true
		w.status.Error = ""
		w.status.Failures = 0
	}
	st := w.status
	w.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		// Shutting down; the failure says nothing about the dependency.
	case err == nil && (first || !wasUp):
		w.logger.Info("dependency available")
	case err != nil && (first || wasUp):
		w.logger.Warn("dependency unavailable", "error", err)
	case err != nil:
		w.logger.Debug("dependency still unavailable", "failures", st.Failures, "error", err)
	}
	return st
}

// Status returns the last observed state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// next is the delay before the following probe.
func (w *Watcher) next() time.Duration {
	w.mu.Lock()
	failures := w.status.Failures
	w.mu.Unlock()

	if failures == 0 {
		return w.backoff.Interval
	}
	d := w.backoff.Initial
	for i := 1; i < failures && d < w.backoff.Max; i++ {
		d *= 2
	}
	return min(d, w.backoff.Max)
}
