package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/glimmer/internal/metric"
)

// Status is the health of one endpoint.
type Status int

// Endpoint states. A healthy endpoint degrades to intermittent on its first
// failure and to prolonged once the retry delay has reached its maximum.
const (
	StatusHealthy Status = iota
	StatusIntermittent
	StatusProlonged
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusIntermittent:
		return "intermittent failure"
	case StatusProlonged:
		return "prolonged failure"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Backoff defaults.
const (
	DefaultBackoffStart = 100 * time.Millisecond
	DefaultBackoffMax   = 10 * time.Second
	DefaultSendTimeout  = time.Second
)

// BackoffConfig configures a Backoff.
type BackoffConfig struct {
	// Name identifies the endpoint in logs and metrics.
	Name    string
	Start   time.Duration
	Max     time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Backoff wraps a Client with a retry delay that doubles on every failure,
// up to a maximum, and resets on success. While the delay runs, sends fail
// immediately without touching the device.
type Backoff struct {
	client  Client
	name    string
	start   time.Duration
	max     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time

	mu        sync.Mutex
	status    Status
	delay     time.Duration
	nextCheck time.Time
}

// NewBackoff wraps client.
func NewBackoff(client Client, cfg BackoffConfig) *Backoff {
	if cfg.Start <= 0 {
		cfg.Start = DefaultBackoffStart
	}
	if cfg.Max < cfg.Start {
		cfg.Max = max(DefaultBackoffMax, cfg.Start)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Backoff{
		client:  client,
		name:    cfg.Name,
		start:   cfg.Start,
		max:     cfg.Max,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("endpoint", cfg.Name),
		metrics: cfg.Metrics,
		now:     time.Now,
		delay:   cfg.Start,
	}
	b.observe()
	return b
}

// DisplayFrame sends payload unless the endpoint is waiting out its delay.
func (b *Backoff) DisplayFrame(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.status == StatusDead {
		b.count("fatal")
		return fmt.Errorf("%s: %w", b.name, ErrProcessExited)
	}
	if b.status != StatusHealthy && now.Before(b.nextCheck) {
		b.count("skipped")
		return lost(fmt.Sprintf("%s: backing off until %s", b.name, b.nextCheck.Format(time.TimeOnly)), nil)
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
	err := b.client.DisplayFrame(sendCtx, payload)
	cancel()

	switch {
	case err == nil:
		b.delay = b.start
		b.nextCheck = now
		b.transition(StatusHealthy, nil)
		b.count("ok")
		return nil
	case IsFatal(err):
		b.transition(StatusDead, err)
		b.count("fatal")
		return fmt.Errorf("%s: %w", b.name, err)
	default:
		b.nextCheck = now.Add(b.delay)
		b.delay = min(b.delay*2, b.max)
		next := StatusIntermittent
		if b.delay >= b.max {
			next = StatusProlonged
		}
		b.transition(next, err)
		b.count("failed")
		var cl *ConnectionLostError
		if errors.As(err, &cl) {
			return err
		}
		return lost(b.name, err)
	}
}

func (b *Backoff) transition(next Status, cause error) {
	if next == b.status {
		return
	}
	prev := b.status
	b.status = next
	b.observe()

	switch next {
	case StatusHealthy:
		b.logger.Info("light endpoint recovered", "previous", prev.String())
	case StatusIntermittent:
		b.logger.Warn("light endpoint failing", "error", cause, "retry_in", b.nextCheck.Sub(b.now()))
	case StatusProlonged:
		b.logger.Error("light endpoint unreachable", "error", cause, "retry_every", b.max)
	case StatusDead:
		b.logger.Error("light endpoint gone", "error", cause)
	}
}

func (b *Backoff) observe() {
	if b.metrics != nil {
		b.metrics.EndpointStatus.WithLabelValues(b.name).Set(float64(b.status))
	}
}

func (b *Backoff) count(result string) {
	if b.metrics != nil {
		b.metrics.TransportSends.WithLabelValues(b.name, result).Inc()
	}
}

// Status returns the current health.
func (b *Backoff) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// NextCheck returns the earliest time the next real send will be attempted.
func (b *Backoff) NextCheck() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextCheck
}

// EndpointStatus reports the health of the endpoint.
func (b *Backoff) EndpointStatus() EndpointStatus {
	st := EndpointStatus{Name: b.name, Status: b.Status().String()}
	if next := b.NextCheck(); b.now().Before(next) {
		st.NextCheck = &next
	}
	return st
}

// Close closes the wrapped client.
func (b *Backoff) Close() error {
	return b.client.Close()
}
