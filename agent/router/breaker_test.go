package router

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failing() error { return errors.New("boom") }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newBreaker(3, 30*time.Second, clock.now)

	for i := 0; i < 3; i++ {
		if err := b.execute(failing); err == nil {
			t.Fatalf("execute() #%d error = nil, want failure", i)
		}
	}

	if err := b.execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("execute() after threshold error = %v, want ErrCircuitOpen", err)
	}
	if !b.rejecting() {
		t.Fatal("rejecting() = false, want true while open")
	}
}

func TestBreakerHalfOpenTrialCloses(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newBreaker(1, 30*time.Second, clock.now)

	if err := b.execute(failing); err == nil {
		t.Fatal("execute() error = nil, want failure")
	}
	clock.advance(31 * time.Second)

	if b.rejecting() {
		t.Fatal("rejecting() = true after timeout, want trial allowed")
	}
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("execute() trial error = %v", err)
	}
	// Closed again: failures start counting from zero.
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("execute() after close error = %v", err)
	}
}

func TestBreakerHalfOpenAdmitsOneTrialAtATime(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newBreaker(1, 30*time.Second, clock.now)

	if err := b.execute(failing); err == nil {
		t.Fatal("execute() error = nil, want failure")
	}
	clock.advance(31 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// The trial call is still in flight; nobody else gets through.
	calls := 0
	for i := 0; i < 4; i++ {
		err := b.execute(func() error {
			calls++
			return nil
		})
		if !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("execute() #%d during trial error = %v, want ErrCircuitOpen", i, err)
		}
	}
	if calls != 0 {
		t.Fatalf("breaker admitted %d calls alongside the trial, want 0", calls)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("execute() trial error = %v", err)
	}
	// Successful trial closed the circuit again.
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("execute() after trial success error = %v", err)
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newBreaker(1, 30*time.Second, clock.now)

	if err := b.execute(failing); err == nil {
		t.Fatal("execute() error = nil, want failure")
	}
	clock.advance(31 * time.Second)

	if err := b.execute(failing); err == nil {
		t.Fatal("execute() trial error = nil, want failure")
	}
	if err := b.execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("execute() after failed trial error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newBreaker(2, 30*time.Second, clock.now)

	if err := b.execute(failing); err == nil {
		t.Fatal("execute() error = nil, want failure")
	}
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	if err := b.execute(failing); err == nil {
		t.Fatal("execute() error = nil, want failure")
	}
	// One failure since the success: still closed.
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("execute() error = %v, breaker must still be closed", err)
	}
}

func TestBreakerSetReusesPerSource(t *testing.T) {
	t.Parallel()

	set := newBreakerSet(3, time.Second, time.Now)
	if set.forSource("a") != set.forSource("a") {
		t.Fatal("forSource() returned different breakers for the same name")
	}
	if set.forSource("a") == set.forSource("b") {
		t.Fatal("forSource() shared a breaker across names")
	}
}
