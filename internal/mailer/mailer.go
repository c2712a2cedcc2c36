package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Message is a fully rendered email ready for delivery. From may be empty,
// in which case the implementation falls back to its configured sender.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// Mailer delivers a rendered message. Implementations must respect context
// cancellation and deadlines; a timeout is reported as an ordinary error.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of delivering them (development/test).
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info("email delivered (log mailer)",
		zap.String("to", msg.To),
		zap.String("from", msg.From),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTMLBody)),
	)
	return nil
}
