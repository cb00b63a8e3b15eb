package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// SESService is the email capability the mailer depends on.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Mailer emails the ops address when a job dead-letters. Alerting is
// best-effort: a send failure is logged and dropped.
type Mailer struct {
	client    SESService
	fromEmail string
	toEmail   string
	logger    logger.Logger
}

func NewMailer(ctx context.Context, region, fromEmail, toEmail string, log logger.Logger) (*Mailer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewMailerWithService(ses.NewFromConfig(awsCfg), fromEmail, toEmail, log), nil
}

func NewMailerWithService(client SESService, fromEmail, toEmail string, log logger.Logger) *Mailer {
	return &Mailer{
		client:    client,
		fromEmail: fromEmail,
		toEmail:   toEmail,
		logger:    log.WithFields(map[string]interface{}{"component": "alert"}),
	}
}

// NotifyDeadLetter matches the queue's dead-letter callback shape.
func (m *Mailer) NotifyDeadLetter(ctx context.Context, job *models.Job, cause error) {
	subject := fmt.Sprintf("[push-dispatch] job %s dead-lettered", job.ID)
	body := fmt.Sprintf(
		"Job %s (locale %s, %d tokens, attempt %d) was moved to the dead-letter list at %s.\n\nCause: %v\n",
		job.ID, job.Locale, len(job.Tokens), job.Attempt, time.Now().UTC().Format(time.RFC3339), cause,
	)

	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{m.toEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(m.fromEmail),
	})
	if err != nil {
		m.logger.WithError(err).Error("dead-letter alert email failed", map[string]interface{}{
			"jobId": job.ID,
		})
		return
	}

	m.logger.Info("dead-letter alert sent", map[string]interface{}{
		"jobId": job.ID,
		"to":    m.toEmail,
	})
}
