// Package resilience stops calling a service that keeps failing, so the
// remaining items of a run fail fast instead of each waiting on a dead
// endpoint.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the breaker's position.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the cooldown has passed.
	Open
	// HalfOpen lets one trial call through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the service while the breaker is open.
var ErrOpen = eris.New("resilience: breaker open")

// BreakerConfig controls when the breaker opens and for how long.
type BreakerConfig struct {
	// Threshold is the number of consecutive counted failures that open the
	// breaker. Default: 5.
	Threshold int
	// Cooldown is how long the breaker stays open before a trial call.
	// Default: 30s.
	Cooldown time.Duration
	// Counts decides which errors count as failures. Nil counts all errors.
	Counts func(err error) bool
	// OnChange is called, under the breaker's lock, on every state change.
	OnChange func(from, to State)
}

// Breaker guards a single service.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool

	now func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Call runs fn unless the breaker is open, and records its outcome.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledDown() {
		return HalfOpen
	}
	return b.state
}

// Failures returns the current run of consecutive counted failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if !b.cooledDown() {
			return ErrOpen
		}
		b.setState(HalfOpen)
		b.trial = true
		return nil
	case HalfOpen:
		// One trial at a time.
		if b.trial {
			return ErrOpen
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if err == nil || !b.cfg.Counts(err) {
		b.failures = 0
		if b.state != Closed {
			b.setState(Closed)
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		if b.state != Open {
			b.setState(Open)
		}
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}
