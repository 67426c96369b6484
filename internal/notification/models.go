package notification

import (
	"fmt"
	"strings"
	"time"

	"delivery-core/internal/identity"
)

// Channel is one delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
	ChannelPush  Channel = "PUSH"
)

var knownChannels = map[Channel]struct{}{
	ChannelEmail: {},
	ChannelSMS:   {},
	ChannelInApp: {},
	ChannelPush:  {},
}

// ParseChannels validates requested channel names and removes duplicates, keeping first-seen order.
func ParseChannels(raw []string) ([]Channel, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	seen := make(map[Channel]struct{}, len(raw))
	channels := make([]Channel, 0, len(raw))
	for _, name := range raw {
		ch := Channel(strings.ToUpper(strings.TrimSpace(name)))
		if _, ok := knownChannels[ch]; !ok {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	return channels, nil
}

// AttemptStatus moves PENDING -> SENT | FAILED and never changes afterwards.
type AttemptStatus string

const (
	StatusPending AttemptStatus = "PENDING"
	StatusSent    AttemptStatus = "SENT"
	StatusFailed  AttemptStatus = "FAILED"
)

type Attachment struct {
	Name string `json:"name" binding:"required"`
	URL  string `json:"url" binding:"required,url"`
}

// Recipient is a resolved, contactable user.
type Recipient struct {
	ID    string
	Type  identity.RecipientType
	Name  string
	Email string
	Phone string
}

// Payload is the channel-independent content of one notification.
type Payload struct {
	NotificationID string
	Title          string
	Message        string
	ActionURL      string
	ActionText     string
	Attachments    []Attachment
}

// ChannelAttempt records the outcome of one channel for one recipient.
type ChannelAttempt struct {
	Channel     Channel       `json:"channel"`
	Status      AttemptStatus `json:"status"`
	SentAt      *time.Time    `json:"sentAt,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	Read        bool          `json:"read"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
	Error       string        `json:"error,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// Receiver holds one ChannelAttempt per requested channel, in request order.
type Receiver struct {
	RecipientID   string                 `json:"recipientId"`
	RecipientType identity.RecipientType `json:"recipientType"`
	Attempts      []ChannelAttempt       `json:"attempts"`
}

// Attempt returns the attempt for ch, if any.
func (r Receiver) Attempt(ch Channel) (ChannelAttempt, bool) {
	for _, a := range r.Attempts {
		if a.Channel == ch {
			return a, true
		}
	}
	return ChannelAttempt{}, false
}

type Notification struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Message      string       `json:"message"`
	ActionURL    string       `json:"actionUrl,omitempty"`
	ActionText   string       `json:"actionText,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	Roles        []string     `json:"roles,omitempty"`
	RecipientIDs []string     `json:"recipientIds,omitempty"`
	Channels     []Channel    `json:"channels"`
	CreatedAt    time.Time    `json:"createdAt"`
	Receivers    []Receiver   `json:"receivers"`
}

// InboxItem is one unread in-app notification as seen by its recipient.
type InboxItem struct {
	NotificationID string                 `json:"notificationId"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	ActionURL      string                 `json:"actionUrl,omitempty"`
	ActionText     string                 `json:"actionText,omitempty"`
	Attachments    []Attachment           `json:"attachments,omitempty"`
	RecipientType  identity.RecipientType `json:"recipientType"`
	CreatedAt      time.Time              `json:"createdAt"`
	SentAt         *time.Time             `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time             `json:"deliveredAt,omitempty"`
}

// RoleFilter narrows the audit query. Empty Channel/Status match everything.
type RoleFilter struct {
	Role    string
	Channel Channel
	Status  AttemptStatus
	Limit   int
	Offset  int
}
