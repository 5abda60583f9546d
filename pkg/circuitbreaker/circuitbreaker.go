// Package circuitbreaker stops calling a failing dependency (the Telegram
// Bot API) for a cool-down period after repeated failures.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down expires.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeLimit is returned when the half-open probe budget is in use.
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// Config holds breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int

	// CoolDown is how long the breaker stays open.
	CoolDown time.Duration

	// MaxProbes limits concurrent calls in half-open state.
	MaxProbes int

	// IsFailure decides whether an error counts. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange is called after every transition.
	OnStateChange func(name string, from, to State)

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// Option configures a Breaker.
type Option func(*Config)

// WithFailureThreshold sets the consecutive failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the number of successes needed to close again.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithCoolDown sets how long the breaker stays open.
func WithCoolDown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CoolDown = d
		}
	}
}

// WithIsFailure sets the failure classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// WithOnStateChange sets the transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name   string
	config Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	cfg := Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		MaxProbes:        1,
		Now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Breaker{name: name, config: cfg}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open when the
// cool-down has expired.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshLocked()

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probes >= b.config.MaxProbes {
			return ErrProbeLimit
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if b.isFailure(err) {
		b.successes = 0
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *Breaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation says nothing about the dependency.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if b.config.IsFailure != nil {
		return b.config.IsFailure(err)
	}
	return true
}

func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && b.config.Now().Sub(b.openedAt) >= b.config.CoolDown {
		b.transitionLocked(StateHalfOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probes = 0
	if to == StateOpen {
		b.openedAt = b.config.Now()
	}
	if from != to && b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.name, from, to)
	}
}

// TelegramBreaker returns the breaker guarding Bot API calls.
func TelegramBreaker(opts ...Option) *Breaker {
	base := []Option{
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithCoolDown(30 * time.Second),
	}
	return New("telegram", append(base, opts...)...)
}
