package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/glimmer/internal/metric"
)

// scriptedClient returns the queued errors in order, then nil.
type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedClient) DisplayFrame(context.Context, []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedClient) Close() error { return nil }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBackoff(client Client, start, maxDelay time.Duration) (*Backoff, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBackoff(client, BackoffConfig{Name: "test", Start: start, Max: maxDelay, Metrics: metric.New(nil)})
	b.now = clock.now
	return b, clock
}

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	refused := lost("refused", nil)
	client := &scriptedClient{errs: []error{refused, refused, refused, refused}}
	b, clock := newTestBackoff(client, 100*time.Millisecond, 300*time.Millisecond)
	ctx := context.Background()

	wantDelays := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, want := range wantDelays {
		err := b.DisplayFrame(ctx, []byte{1})
		require.Error(t, err, "attempt %d", i)
		assert.False(t, IsFatal(err))
		assert.Equal(t, want, b.NextCheck().Sub(clock.now()), "attempt %d", i)
		clock.advance(want)
	}
	assert.Equal(t, 4, client.calls)
	assert.Equal(t, StatusProlonged, b.Status())
}

func TestBackoff_DoublesFromStart(t *testing.T) {
	refused := lost("refused", nil)
	client := &scriptedClient{errs: []error{refused, refused, refused}}
	b, clock := newTestBackoff(client, 50*time.Millisecond, time.Second)
	ctx := context.Background()

	for i, want := range []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond} {
		require.Error(t, b.DisplayFrame(ctx, nil))
		assert.Equal(t, want, b.NextCheck().Sub(clock.now()), "failure %d", i+1)
		clock.advance(want)
	}
	assert.Equal(t, StatusIntermittent, b.Status())
}

func TestBackoff_ShortCircuitsWhileWaiting(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("boom")}}
	b, clock := newTestBackoff(client, time.Second, 8*time.Second)
	ctx := context.Background()

	require.Error(t, b.DisplayFrame(ctx, nil))
	assert.Equal(t, StatusIntermittent, b.Status())

	clock.advance(500 * time.Millisecond)
	err := b.DisplayFrame(ctx, nil)
	var cl *ConnectionLostError
	require.ErrorAs(t, err, &cl)
	assert.Equal(t, 1, client.calls, "device must not be touched while backing off")
}

func TestBackoff_SuccessResets(t *testing.T) {
	refused := lost("refused", nil)
	client := &scriptedClient{errs: []error{refused, refused, nil, refused}}
	b, clock := newTestBackoff(client, 100*time.Millisecond, 10*time.Second)
	ctx := context.Background()

	require.Error(t, b.DisplayFrame(ctx, nil))
	clock.advance(100 * time.Millisecond)
	require.Error(t, b.DisplayFrame(ctx, nil))
	clock.advance(200 * time.Millisecond)

	require.NoError(t, b.DisplayFrame(ctx, nil))
	assert.Equal(t, StatusHealthy, b.Status())

	require.Error(t, b.DisplayFrame(ctx, nil))
	assert.Equal(t, 100*time.Millisecond, b.NextCheck().Sub(clock.now()))
}

func TestBackoff_FatalMarksDead(t *testing.T) {
	client := &scriptedClient{errs: []error{ErrProcessExited}}
	b, _ := newTestBackoff(client, 100*time.Millisecond, time.Second)
	ctx := context.Background()

	err := b.DisplayFrame(ctx, nil)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StatusDead, b.Status())

	err = b.DisplayFrame(ctx, nil)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, client.calls)
}

func TestBackoff_AppliesTimeout(t *testing.T) {
	blocking := clientFunc(func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return lost("timeout", ctx.Err())
	})
	b := NewBackoff(blocking, BackoffConfig{Name: "slow", Timeout: 20 * time.Millisecond})

	start := time.Now()
	err := b.DisplayFrame(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff_RecordsMetrics(t *testing.T) {
	m := metric.New(nil)
	client := &scriptedClient{errs: []error{lost("refused", nil)}}
	b := NewBackoff(client, BackoffConfig{Name: "udp://strip", Metrics: m})

	require.Error(t, b.DisplayFrame(context.Background(), nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportSends.WithLabelValues("udp://strip", "failed")))
	assert.Equal(t, float64(StatusIntermittent), testutil.ToFloat64(m.EndpointStatus.WithLabelValues("udp://strip")))
}

type clientFunc func(ctx context.Context, payload []byte) error

func (f clientFunc) DisplayFrame(ctx context.Context, payload []byte) error { return f(ctx, payload) }
func (f clientFunc) Close() error                                          { return nil }
