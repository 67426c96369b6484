package notification

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"delivery-core/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SMSPublisher is the subset of the SNS API used for text messages.
type SMSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SMSChannel struct {
	sns                SMSPublisher
	defaultCountryCode string
	senderID           string
	pattern            *regexp.Regexp
	logger             logger.Logger
}

// NewSMSChannel builds the SMS adapter. Normalized numbers must carry between
// minDigits and 15 digits after the leading '+'.
func NewSMSChannel(publisher SMSPublisher, defaultCountryCode string, minDigits int, senderID string, log logger.Logger) *SMSChannel {
	if minDigits < 1 || minDigits > 15 {
		minDigits = 10
	}
	return &SMSChannel{
		sns:                publisher,
		defaultCountryCode: defaultCountryCode,
		senderID:           senderID,
		pattern:            regexp.MustCompile(fmt.Sprintf(`^\+\d{%d,15}$`, minDigits)),
		logger:             log.WithFields(map[string]interface{}{"channel": ChannelSMS}),
	}
}

func (s *SMSChannel) Channel() Channel { return ChannelSMS }

func (s *SMSChannel) Attempt(ctx context.Context, r Recipient, p Payload) ChannelResult {
	if r.Phone == "" {
		return failed("no phone number on file")
	}

	phone := NormalizePhone(r.Phone, s.defaultCountryCode)
	if !s.pattern.MatchString(phone) {
		return failed("invalid phone number %q", r.Phone)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(RenderText(p)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	}
	if s.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.sns.Publish(ctx, input)
	if err != nil {
		s.logger.Warn("sms publish failed", map[string]interface{}{
			"recipientId":    r.ID,
			"notificationId": p.NotificationID,
			"error":          err,
		})
		return failed("sms gateway rejected message: %v", err)
	}
	if out == nil || aws.ToString(out.MessageId) == "" {
		return failed("sms gateway returned no message id")
	}

	return sent("message id " + aws.ToString(out.MessageId))
}

// NormalizePhone strips formatting, rewrites the 00 international prefix to '+',
// and replaces a local trunk prefix with defaultCountryCode. It does not validate.
func NormalizePhone(raw, defaultCountryCode string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	n := b.String()

	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, "+"):
		return n
	case strings.HasPrefix(n, "00"):
		return "+" + n[2:]
	case strings.HasPrefix(n, "0"):
		return defaultCountryCode + strings.TrimLeft(n, "0")
	default:
		return defaultCountryCode + n
	}
}
