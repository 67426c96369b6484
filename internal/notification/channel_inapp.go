package notification

import (
	"context"
)

// InAppChannel accepts the attempt for durable recording. The live push happens
// later, from InAppDelivery, once the notification holding the SENT attempt is stored.
type InAppChannel struct{}

func NewInAppChannel() *InAppChannel { return &InAppChannel{} }

func (c *InAppChannel) Channel() Channel { return ChannelInApp }

func (c *InAppChannel) Attempt(_ context.Context, r Recipient, _ Payload) ChannelResult {
	if r.ID == "" {
		return failed("recipient has no id")
	}
	if r.Type == "" {
		return failed("recipient %s has no type", r.ID)
	}
	return sent("")
}
