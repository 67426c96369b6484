package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"delivery-core/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// PushService is the subset of the SNS API used for mobile push.
type PushService interface {
	CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TokenSource supplies registered device tokens per user.
type TokenSource interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

type PushChannel struct {
	sns         PushService
	tokens      TokenSource
	platformARN string
	logger      logger.Logger
}

func NewPushChannel(service PushService, tokens TokenSource, platformARN string, log logger.Logger) *PushChannel {
	return &PushChannel{
		sns:         service,
		tokens:      tokens,
		platformARN: platformARN,
		logger:      log.WithFields(map[string]interface{}{"channel": ChannelPush}),
	}
}

func (c *PushChannel) Channel() Channel { return ChannelPush }

// Attempt sends to every registered token. One success is enough for SENT.
func (c *PushChannel) Attempt(ctx context.Context, r Recipient, p Payload) ChannelResult {
	tokens, err := c.tokens.DeviceTokens(ctx, r.ID)
	if err != nil {
		return failed("device token lookup failed: %v", err)
	}
	if len(tokens) == 0 {
		return failed("no device tokens registered")
	}

	message, err := buildPushMessage(p)
	if err != nil {
		return failed("build push message: %v", err)
	}

	failures := 0
	for _, token := range tokens {
		if err := c.sendToToken(ctx, token, message); err != nil {
			failures++
			c.logger.Debug("push to token failed", map[string]interface{}{
				"recipientId": r.ID,
				"error":       err,
			})
		}
	}

	switch {
	case failures == len(tokens):
		return failed("all %d device tokens failed", len(tokens))
	case failures > 0:
		return sent(fmt.Sprintf("partially failed: %d of %d tokens failed", failures, len(tokens)))
	default:
		return sent("")
	}
}

func (c *PushChannel) sendToToken(ctx context.Context, token, message string) error {
	endpoint, err := c.sns.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(c.platformARN),
		Token:                  aws.String(token),
	})
	if err != nil {
		return err
	}

	_, err = c.sns.Publish(ctx, &sns.PublishInput{
		TargetArn:        endpoint.EndpointArn,
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	return err
}

// buildPushMessage produces the per-platform JSON envelope SNS expects with MessageStructure=json.
func buildPushMessage(p Payload) (string, error) {
	data := map[string]string{
		"notificationId": p.NotificationID,
		"actionUrl":      p.ActionURL,
	}

	gcm, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{"title": p.Title, "body": p.Message},
		"data":         data,
	})
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(map[string]interface{}{
		"aps":  map[string]interface{}{"alert": map[string]string{"title": p.Title, "body": p.Message}, "sound": "default"},
		"data": data,
	})
	if err != nil {
		return "", err
	}

	envelope, err := json.Marshal(map[string]string{
		"default":      p.Title + ": " + p.Message,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(envelope), nil
}
