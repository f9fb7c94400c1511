// Package throttle bounds the per-domain request rate.
//
// State is in-memory and per-process: a best-effort courtesy limiter, not a
// cross-process correctness guarantee.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/marketsense/marketsense/internal/clock"
	"github.com/marketsense/marketsense/internal/metrics"
	"github.com/marketsense/marketsense/internal/urlutil"
)

// Escalation and decay factors for the adaptive delay.
const (
	backoffFactor = 1.5
	decayFactor   = 0.9
)

// Config bounds the adaptive per-domain delay.
type Config struct {
	DelayBase time.Duration
	DelayMax  time.Duration
}

type domainState struct {
	lastAccess time.Time
	delay      time.Duration
}

// Throttle tracks last-access time and an adaptive delay per domain. The
// delay escalates multiplicatively on block signals up to DelayMax and
// decays toward DelayBase on success.
type Throttle struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock
	state map[string]*domainState
}

// New constructs a Throttle.
func New(cfg Config, clk clock.Clock) *Throttle {
	return &Throttle{
		cfg:   cfg,
		clock: clk,
		state: make(map[string]*domainState),
	}
}

// Delay returns how long the caller must wait before the next request to
// domain. Zero when the domain is cold or the interval has already passed.
func (t *Throttle) Delay(domain string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.state[domain]
	if !ok || st.lastAccess.IsZero() {
		return 0
	}
	elapsed := t.clock.Now().Sub(st.lastAccess)
	if wait := st.delay - elapsed; wait > 0 {
		return wait
	}
	return 0
}

// Wait blocks until the domain of url may be fetched, or the context ends.
func (t *Throttle) Wait(ctx context.Context, url string) error {
	domain := urlutil.Domain(url)
	delay := t.Delay(domain)
	if delay > 0 {
		metrics.ObserveThrottleDelay(domain, delay)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	t.touch(domain)
	return nil
}

func (t *Throttle) touch(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.ensure(domain)
	st.lastAccess = t.clock.Now()
}

// RecordAccess updates the access time and block-signal history for domain.
// Called after every fetch attempt regardless of success.
func (t *Throttle) RecordAccess(domain string, blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.ensure(domain)
	st.lastAccess = t.clock.Now()
	if blocked {
		escalated := time.Duration(float64(st.delay) * backoffFactor)
		if escalated > t.cfg.DelayMax {
			escalated = t.cfg.DelayMax
		}
		st.delay = escalated
		return
	}
	decayed := time.Duration(float64(st.delay) * decayFactor)
	if decayed < t.cfg.DelayBase {
		decayed = t.cfg.DelayBase
	}
	st.delay = decayed
}

func (t *Throttle) ensure(domain string) *domainState {
	st, ok := t.state[domain]
	if !ok {
		st = &domainState{delay: t.cfg.DelayBase}
		t.state[domain] = st
	}
	return st
}
