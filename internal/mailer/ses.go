package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESMailer delivers reminder emails via AWS SES.
type SESMailer struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESMailer(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESMailer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESMailer{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers one rendered reminder via SES.
func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("message missing recipient")
	}
	if msg.Subject == "" {
		return fmt.Errorf("message missing subject")
	}

	from := msg.From
	if from == "" {
		from = m.from
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTMLBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	m.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
