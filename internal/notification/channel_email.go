package notification

import (
	"context"

	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/validation"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the subset of the SES API used for email.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type EmailChannel struct {
	ses       SESService
	fromEmail string
	logger    logger.Logger
}

func NewEmailChannel(sesClient SESService, fromEmail string, log logger.Logger) *EmailChannel {
	return &EmailChannel{
		ses:       sesClient,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"channel": ChannelEmail}),
	}
}

func (e *EmailChannel) Channel() Channel { return ChannelEmail }

func (e *EmailChannel) Attempt(ctx context.Context, r Recipient, p Payload) ChannelResult {
	if r.Email == "" {
		return failed("no email address on file")
	}
	if !validation.ValidateEmail(r.Email) {
		return failed("invalid email address %q", r.Email)
	}

	rendered, err := RenderEmail(p)
	if err != nil {
		return failed("%v", err)
	}

	out, err := e.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{r.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(rendered.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(rendered.Text), Charset: aws.String("UTF-8")},
				Html: &types.Content{Data: aws.String(rendered.HTML), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(e.fromEmail),
	})
	if err != nil {
		e.logger.Warn("email send failed", map[string]interface{}{
			"recipientId":    r.ID,
			"notificationId": p.NotificationID,
			"error":          err,
		})
		return failed("email gateway rejected message: %v", err)
	}

	return sent("message id " + aws.ToString(out.MessageId))
}
