package breaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/mailer"
	"github.com/stockflow/reminderd/internal/metrics"
)

// ProtectedMailer wraps a Mailer with a circuit breaker. When the provider
// starts failing, sends fail fast instead of each one waiting out its
// timeout; the engine records those as failed attempts like any other
// delivery error, so affected invoices retry on the next run.
type ProtectedMailer struct {
	mailer  mailer.Mailer
	breaker *Breaker
	logger  *zap.Logger
}

// NewProtectedMailer wraps a mailer with circuit breaker protection.
func NewProtectedMailer(m mailer.Mailer, b *Breaker, logger *zap.Logger) *ProtectedMailer {
	return &ProtectedMailer{
		mailer:  m,
		breaker: b,
		logger:  logger,
	}
}

// Send delivers through the breaker, failing fast while it is open.
func (p *ProtectedMailer) Send(ctx context.Context, msg mailer.Message) error {
	if !p.breaker.Allow() {
		metrics.SetBreakerOpen(true)
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("to", msg.To),
		)
		return fmt.Errorf("%w: email provider unavailable", ErrOpen)
	}

	err := p.mailer.Send(ctx, msg)
	if err != nil {
		p.breaker.RecordFailure()
		metrics.SetBreakerOpen(p.breaker.GetState() == StateOpen)
		return err
	}

	p.breaker.RecordSuccess()
	metrics.SetBreakerOpen(false)
	return nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedMailer) Breaker() *Breaker {
	return p.breaker
}
