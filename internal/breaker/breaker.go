package breaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
//
//	Closed -> Open:      failure count reaches the threshold
//	Open -> HalfOpen:    recovery timeout elapses
//	HalfOpen -> Closed:  the probe succeeds
//	HalfOpen -> Open:    the probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
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

// ErrOpen is returned when the breaker is open and calls are rejected.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker tuning.
type Config struct {
	Name            string
	MaxFailures     int           // consecutive failures before opening
	RecoveryTimeout time.Duration // wait in Open before a probe
}

// Breaker protects the email provider from being hammered while it is down.
// When consecutive deliveries fail it opens and further sends fail fast;
// after the recovery timeout one probe is let through to test the provider.
type Breaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	state           State
	failureCount    int
	lastFailureTime time.Time
	probing         bool
}

// New creates a Breaker with defaults filled in.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}

	return &Breaker{
		config: cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)
			b.probing = true
			b.logger.Info("circuit breaker allowing probe request",
				zap.String("name", b.config.Name),
			)
			return true
		}
		return false

	case StateHalfOpen:
		// One probe at a time.
		if !b.probing {
			b.probing = true
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess marks a call as succeeded; a successful probe closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
		b.logger.Info("circuit breaker closed, provider recovered",
			zap.String("name", b.config.Name),
		)
	}
}

// RecordFailure marks a call as failed, opening the breaker when the
// threshold is reached or a probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.MaxFailures {
			b.transitionTo(StateOpen)
			b.logger.Warn("circuit breaker opened",
				zap.String("name", b.config.Name),
				zap.Int("failures", b.failureCount),
			)
		}

	case StateHalfOpen:
		b.transitionTo(StateOpen)
		b.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", b.config.Name),
		)
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo changes state (must be called with lock held).
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.probing = false

	b.logger.Debug("circuit breaker state transition",
		zap.String("name", b.config.Name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)
}
