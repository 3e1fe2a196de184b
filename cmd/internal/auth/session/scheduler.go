package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SchedulerState is the renewal timer state.
type SchedulerState int

const (
	// StateIdle means no timer is pending and no renewal is running.
	StateIdle SchedulerState = iota
	// StateArmed means a timer is pending.
	StateArmed
	// StateFiring means a renewal exchange is in flight.
	StateFiring
)

func (s SchedulerState) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	default:
		return "idle"
	}
}

// Handle identifies one arming of the scheduler. The zero Handle is never live.
type Handle uint64

// RenewFunc performs the renewal exchange and returns the new access-token
// lifetime (zero when unknown).
type RenewFunc func(ctx context.Context) (time.Duration, error)

// Scheduler arms a one-shot timer that renews the access token before expiry.
//
// Only one timer is ever live: Arm cancels the previous one. Only one renewal
// runs at a time: Fire is a no-op while another renewal is in flight.
type Scheduler struct {
	log       *slog.Logger
	cfg       Config
	clock     clockwork.Clock
	metrics   *Metrics
	renew     RenewFunc
	onFailure func(error)

	// ctx bounds timer-triggered renewals; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	seq        uint64
	current    Handle
	timer      clockwork.Timer
	fireAt     time.Time
	refreshing bool
	// gen changes on Stop so a renewal started before it cannot touch later state.
	gen uint64
}

// NewScheduler constructs an idle Scheduler. onFailure runs after a failed
// renewal, once the scheduler itself is disarmed.
func NewScheduler(log *slog.Logger, cfg Config, clock clockwork.Clock, metrics *Metrics, renew RenewFunc, onFailure func(error)) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:       log,
		cfg:       cfg,
		clock:     clock,
		metrics:   metrics,
		renew:     renew,
		onFailure: onFailure,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Arm cancels any pending timer and schedules a renewal after
// cfg.RefreshDelay(expiresIn). A non-positive expiresIn uses the default lifetime.
func (s *Scheduler) Arm(expiresIn time.Duration) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked(expiresIn)
}

func (s *Scheduler) armLocked(expiresIn time.Duration) Handle {
	s.stopTimerLocked()

	delay := s.cfg.RefreshDelay(expiresIn)
	s.seq++
	h := Handle(s.seq)
	s.current = h
	s.fireAt = s.clock.Now().Add(delay)
	// The extra goroutine keeps timer callbacks off any clock-internal lock.
	s.timer = s.clock.AfterFunc(delay, func() { go s.onTimer(h) })

	s.metrics.armed(true)
	s.log.Debug("scheduler.arm", "handle", uint64(h), "delay", delay, "expires_in", expiresIn)
	return h
}

// Disarm cancels the timer armed under h. Stale or zero handles are a no-op
// and return false.
func (s *Scheduler) Disarm(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == 0 || h != s.current {
		return false
	}
	s.stopTimerLocked()
	return true
}

// Stop cancels whatever is pending and detaches any in-flight renewal so its
// result is ignored. Safe to call at any time.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.refreshing = false
	s.gen++
}

// Close stops the scheduler and cancels in-flight timer-driven renewals.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.current != 0 {
		s.log.Debug("scheduler.disarm", "handle", uint64(s.current))
	}
	s.current = 0
	s.fireAt = time.Time{}
	s.metrics.armed(false)
}

// State reports the scheduler state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.refreshing:
		return StateFiring
	case s.current != 0:
		return StateArmed
	default:
		return StateIdle
	}
}

// Pending reports whether a timer is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != 0
}

// NextFireAt returns when the pending timer fires.
func (s *Scheduler) NextFireAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == 0 {
		return time.Time{}, false
	}
	return s.fireAt, true
}

func (s *Scheduler) onTimer(h Handle) {
	s.mu.Lock()
	if h != s.current {
		// Disarmed or re-armed after this timer expired.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	_ = s.fire(s.ctx, "timer")
}

// Fire runs a renewal now. It returns ErrRenewalInFlight when another renewal
// is running and ErrSessionCleared when Stop ran while it was in flight.
func (s *Scheduler) Fire(ctx context.Context) error {
	return s.fire(ctx, "manual")
}

func (s *Scheduler) fire(ctx context.Context, trigger string) error {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		s.metrics.renewal(trigger, "skipped")
		return ErrRenewalInFlight
	}
	s.refreshing = true
	gen := s.gen
	s.stopTimerLocked()
	s.mu.Unlock()

	lifetime, err := s.safeRenew(ctx)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.metrics.renewal(trigger, "abandoned")
		s.log.Info("scheduler.fire.abandoned", "trigger", trigger)
		return ErrSessionCleared
	}
	if err == nil {
		h := s.armLocked(lifetime)
		s.refreshing = false
		s.mu.Unlock()
		s.metrics.renewal(trigger, "ok")
		s.log.Info("scheduler.fire.ok", "trigger", trigger, "handle", uint64(h), "expires_in", lifetime)
		return nil
	}
	s.stopTimerLocked()
	s.refreshing = false
	s.mu.Unlock()

	if errors.Is(err, ErrSessionCleared) {
		s.metrics.renewal(trigger, "abandoned")
		return err
	}

	s.metrics.renewal(trigger, "failed")
	s.log.Warn("scheduler.fire.fail", "trigger", trigger, "err", err)
	s.onFailure(err)
	return err
}

func (s *Scheduler) safeRenew(ctx context.Context) (lifetime time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Op: "session.renew", Value: r}
		}
	}()
	if s.renew == nil {
		return 0, errors.New("session: no renew func")
	}
	return s.renew(ctx)
}
