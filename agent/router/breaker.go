package router

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a source's circuit is open and calls
// to it are being rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker tracks consecutive failures for one external source. It
// opens after maxFailures in a row, rejects calls until resetTimeout
// elapses, then permits a single trial call in half-open state.
type breaker struct {
	mu            sync.Mutex
	state         breakerState
	failures      int
	maxFailures   int
	timeout       time.Duration
	openedAt      time.Time
	trialInFlight bool
	now           func() time.Time
}

func newBreaker(maxFailures int, timeout time.Duration, now func() time.Time) *breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if now == nil {
		now = time.Now
	}
	return &breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         now,
	}
}

// execute runs fn if the circuit is closed or due for a trial call.
// Returns ErrCircuitOpen without calling fn otherwise.
func (b *breaker) execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// rejecting reports whether the breaker would refuse a call right now,
// without mutating state. Used to drop a source from a tier's
// candidate list before fetching.
func (b *breaker) rejecting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.now().Sub(b.openedAt) < b.timeout
}

func (b *breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case stateHalfOpen:
		// Exactly one trial call probes the source; concurrent
		// callers are rejected until its outcome settles the state.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held. A half-open trial failure
// reopens the circuit and restarts the timer.
func (b *breaker) onFailure() {
	b.failures++
	b.trialInFlight = false
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *breaker) onSuccess() {
	b.failures = 0
	b.trialInFlight = false
	b.state = stateClosed
}

// breakerSet lazily creates one breaker per source name. Breakers live
// for the process lifetime; only the router mutates them.
type breakerSet struct {
	mu       sync.Mutex
	byName   map[string]*breaker
	maxFails int
	timeout  time.Duration
	now      func() time.Time
}

func newBreakerSet(maxFails int, timeout time.Duration, now func() time.Time) *breakerSet {
	return &breakerSet{
		byName:   make(map[string]*breaker, 8),
		maxFails: maxFails,
		timeout:  timeout,
		now:      now,
	}
}

func (s *breakerSet) forSource(name string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byName[name]
	if !ok {
		b = newBreaker(s.maxFails, s.timeout, s.now)
		s.byName[name] = b
	}
	return b
}
