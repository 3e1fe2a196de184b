package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renewRecorder struct {
	calls    atomic.Int32
	lifetime time.Duration
	err      error
	gate     chan struct{}
	panicVal any

	mu       sync.Mutex
	failures []error
}

func (r *renewRecorder) renew(ctx context.Context) (time.Duration, error) {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.panicVal != nil {
		panic(r.panicVal)
	}
	return r.lifetime, r.err
}

func (r *renewRecorder) onFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *renewRecorder) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

func newTestScheduler(t *testing.T, rec *renewRecorder) (*Scheduler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	s := NewScheduler(discardLogger(), DefaultConfig(), clock, nil, rec.renew, rec.onFailure)
	t.Cleanup(s.Close)
	return s, clock
}

func TestScheduler_ArmComputesDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		expiresIn time.Duration
		want      time.Duration
	}{
		{"buffer subtracted", time.Hour, time.Hour - time.Minute},
		{"floor applies", 10 * time.Second, 30 * time.Second},
		{"default lifetime", 0, 14 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, clock := newTestScheduler(t, &renewRecorder{})

			s.Arm(tc.expiresIn)
			at, ok := s.NextFireAt()
			require.True(t, ok)
			assert.Equal(t, clock.Now().Add(tc.want), at)
			assert.Equal(t, StateArmed, s.State())
		})
	}
}

func TestScheduler_ArmTwiceLeavesOneTimer(t *testing.T) {
	t.Parallel()

	rec := &renewRecorder{lifetime: time.Hour}
	s, clock := newTestScheduler(t, rec)

	h1 := s.Arm(time.Hour)
	h2 := s.Arm(time.Hour)
	require.NotEqual(t, h1, h2)

	assert.False(t, s.Disarm(h1), "first handle must be stale")
	assert.True(t, s.Pending())

	clock.Advance(time.Hour - time.Minute)
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return rec.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	// Re-armed from the renewal lifetime.
	require.Eventually(t, func() bool { return s.State() == StateArmed }, time.Second, 5*time.Millisecond)
	at, ok := s.NextFireAt()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Hour-time.Minute), at)
}

func TestScheduler_DisarmAndStop(t *testing.T) {
	t.Parallel()

	rec := &renewRecorder{}
	s, clock := newTestScheduler(t, rec)

	assert.False(t, s.Disarm(0))
	s.Stop() // idle stop is a no-op

	h := s.Arm(time.Minute)
	assert.True(t, s.Disarm(h))
	assert.False(t, s.Disarm(h), "disarm is idempotent")
	assert.Equal(t, StateIdle, s.State())
	_, ok := s.NextFireAt()
	assert.False(t, ok)

	s.Arm(time.Minute)
	s.Stop()
	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return rec.calls.Load() > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestScheduler_FireIsNotReentrant(t *testing.T) {
	t.Parallel()

	rec := &renewRecorder{lifetime: 10 * time.Minute, gate: make(chan struct{})}
	s, _ := newTestScheduler(t, rec)

	done := make(chan error, 1)
	go func() { done <- s.Fire(context.Background()) }()

	require.Eventually(t, func() bool { return s.State() == StateFiring }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Fire(context.Background()), ErrRenewalInFlight)

	close(rec.gate)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.Equal(t, StateArmed, s.State())
}

func TestScheduler_FailureDisarmsAndReports(t *testing.T) {
	t.Parallel()

	rec := &renewRecorder{err: errBackendDown}
	s, _ := newTestScheduler(t, rec)
	s.Arm(time.Hour)

	err := s.Fire(context.Background())
	require.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, rec.failureCount())
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	rec := &renewRecorder{panicVal: "boom"}
	s, _ := newTestScheduler(t, rec)

	err := s.Fire(context.Background())
	var pe PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, rec.failureCount())
}

func TestScheduler_StopDuringFireDiscardsResult(t *testing.T) {
	t.Parallel()

	rec := &renewRecorder{lifetime: time.Hour, gate: make(chan struct{})}
	s, _ := newTestScheduler(t, rec)

	done := make(chan error, 1)
	go func() { done <- s.Fire(context.Background()) }()
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	close(rec.gate)

	assert.ErrorIs(t, <-done, ErrSessionCleared)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, rec.failureCount())
}
