package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SecurityNotifier delivers out-of-band security messages to users:
// step-up verification codes and alerts for flagged activity. Delivery is
// best-effort; callers never fail a login decision on a notifier error.
type SecurityNotifier interface {
	SendVerificationCode(ctx context.Context, email, code string, ttlMinutes int) error
	SendSecurityAlert(ctx context.Context, email, subject, message string) error
}

// AWSSESNotifier sends security email through AWS SES.
type AWSSESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESNotifier creates a notifier using the default AWS credential chain.
func NewAWSSESNotifier(region, fromAddress string, logger *slog.Logger) (*AWSSESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendVerificationCode emails a one-time login verification code.
func (n *AWSSESNotifier) SendVerificationCode(ctx context.Context, email, code string, ttlMinutes int) error {
	textBody := fmt.Sprintf(`Your verification code

Use this code to finish signing in:

    %s

The code expires in %d minutes. If you did not try to sign in, change your
password immediately and contact support.

This is an automated message. Please do not reply to this email.
`, code, ttlMinutes)

	return n.send(ctx, email, "Your sign-in verification code", textBody)
}

// SendSecurityAlert emails a notice about flagged account activity.
func (n *AWSSESNotifier) SendSecurityAlert(ctx context.Context, email, subject, message string) error {
	textBody := fmt.Sprintf(`%s

If this was you, no action is needed. If you do not recognize this activity,
change your password immediately and contact support.

This is an automated message. Please do not reply to this email.
`, message)

	return n.send(ctx, email, subject, textBody)
}

func (n *AWSSESNotifier) send(ctx context.Context, email, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send security email via SES", slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("security email sent", slog.String("message_id", *result.MessageId))
	return nil
}

// LogOnlyNotifier is used when email delivery is disabled. Codes are logged at
// debug level so local development can complete the step-up flow.
type LogOnlyNotifier struct {
	logger *slog.Logger
}

func NewLogOnlyNotifier(logger *slog.Logger) *LogOnlyNotifier {
	return &LogOnlyNotifier{logger: logger}
}

func (n *LogOnlyNotifier) SendVerificationCode(ctx context.Context, email, code string, ttlMinutes int) error {
	n.logger.Debug("verification code issued (delivery disabled)",
		slog.String("code", code),
		slog.Int("ttl_minutes", ttlMinutes))
	return nil
}

func (n *LogOnlyNotifier) SendSecurityAlert(ctx context.Context, email, subject, message string) error {
	n.logger.Debug("security alert (delivery disabled)", slog.String("subject", subject))
	return nil
}
