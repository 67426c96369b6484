package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/metrics"
	"delivery-core/internal/common/retry"
	"delivery-core/internal/identity"
)

const (
	EventNotification = "notification"
	EventUnreadCount  = "unreadCount"
)

// LivePusher delivers an event to every open connection of one user and reports
// how many connections it reached.
type LivePusher interface {
	PushToUser(userID, event string, data interface{}) int
}

// forwardingPusher is a LivePusher that also reaches connections held by other
// service instances, where a local reach of zero does not mean offline.
type forwardingPusher interface {
	Forwards() bool
}

// InAppStore is the durable side of in-app delivery.
type InAppStore interface {
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, notificationID, recipientID string, recipientType identity.RecipientType) (bool, error)
	ListUnread(ctx context.Context, recipientID string, limit, offset int) ([]InboxItem, error)
	MarkDelivered(ctx context.Context, recipientID string, notificationIDs []string) error
}

// LiveNotification is the payload of the "notification" event.
type LiveNotification struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	ActionURL  string    `json:"actionUrl,omitempty"`
	ActionText string    `json:"actionText,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UnreadCountEvent is the payload of the "unreadCount" event.
type UnreadCountEvent struct {
	Count int `json:"count"`
}

// InAppDelivery pushes stored in-app notifications to connected recipients and
// serves unread counts, unread lists and read marking.
type InAppDelivery struct {
	pushers map[identity.RecipientType]LivePusher
	store   InAppStore
	guard   *retry.Guard
	logger  logger.Logger
}

// NewInAppDelivery takes the routing table from recipient type to the hub serving it.
// A type missing from the table is treated as never connected.
func NewInAppDelivery(pushers map[identity.RecipientType]LivePusher, store InAppStore, guard *retry.Guard, log logger.Logger) *InAppDelivery {
	routes := make(map[identity.RecipientType]LivePusher, len(pushers))
	for k, v := range pushers {
		routes[k] = v
	}
	return &InAppDelivery{
		pushers: routes,
		store:   store,
		guard:   guard,
		logger:  log.WithFields(map[string]interface{}{"component": "inapp"}),
	}
}

// Deliver must only be called after n has been stored. It pushes to each receiver
// whose IN_APP attempt is SENT. Push failures are logged and never change the attempt.
func (d *InAppDelivery) Deliver(ctx context.Context, n *Notification) {
	live := LiveNotification{
		ID:         n.ID,
		Title:      n.Title,
		Message:    n.Message,
		ActionURL:  n.ActionURL,
		ActionText: n.ActionText,
		CreatedAt:  n.CreatedAt,
	}

	for _, rcv := range n.Receivers {
		attempt, ok := rcv.Attempt(ChannelInApp)
		if !ok || attempt.Status != StatusSent {
			continue
		}

		reached := d.push(rcv.RecipientType, rcv.RecipientID, EventNotification, live)
		if reached == 0 && !d.forwards(rcv.RecipientType) {
			continue
		}
		d.pushUnreadCount(ctx, rcv.RecipientType, rcv.RecipientID)
	}
}

// UnreadCount is always recomputed from the store, under the retry guard.
func (d *InAppDelivery) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, errors.NewValidationError("recipientId is required")
	}
	return retry.Query(ctx, d.guard, "unread-count", func(ctx context.Context) (int, error) {
		return d.store.UnreadCount(ctx, recipientID)
	})
}

// MarkRead flips only the given recipient's SENT in-app attempt and then refreshes
// that recipient's live unread count.
func (d *InAppDelivery) MarkRead(ctx context.Context, notificationID, recipientID string, recipientType identity.RecipientType) error {
	updated, err := d.store.MarkRead(ctx, notificationID, recipientID, recipientType)
	if err != nil {
		return err
	}
	if !updated {
		return errors.NewNotFoundError("receiver", fmt.Sprintf("notification %s has no sent in-app entry for %s %s", notificationID, recipientType, recipientID))
	}

	d.pushUnreadCount(ctx, recipientType, recipientID)
	return nil
}

// ListUnread returns a page of unread items and marks them delivered. Marking is
// best effort: a failure is logged and the page is still returned.
func (d *InAppDelivery) ListUnread(ctx context.Context, recipientID string, limit, offset int) ([]InboxItem, error) {
	items, err := d.store.ListUnread(ctx, recipientID, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.NotificationID)
	}
	if err := d.store.MarkDelivered(ctx, recipientID, ids); err != nil {
		d.logger.Warn("failed to mark unread items delivered", map[string]interface{}{
			"recipientId": recipientID,
			"count":       len(ids),
			"error":       err,
		})
	}
	return items, nil
}

func (d *InAppDelivery) pushUnreadCount(ctx context.Context, rt identity.RecipientType, recipientID string) {
	count, err := d.UnreadCount(ctx, recipientID)
	if err != nil {
		d.logger.Warn("unread count refresh failed", map[string]interface{}{
			"recipientId": recipientID,
			"error":       err,
		})
		return
	}
	d.push(rt, recipientID, EventUnreadCount, UnreadCountEvent{Count: count})
}

func (d *InAppDelivery) forwards(rt identity.RecipientType) bool {
	fp, ok := d.pushers[rt].(forwardingPusher)
	return ok && fp.Forwards()
}

func (d *InAppDelivery) push(rt identity.RecipientType, recipientID, event string, data interface{}) (reached int) {
	pusher, ok := d.pushers[rt]
	if !ok {
		return 0
	}

	defer func() {
		if r := recover(); r != nil {
			reached = 0
			d.logger.Error("live push panicked", map[string]interface{}{
				"recipientId": recipientID,
				"event":       event,
				"panic":       fmt.Sprint(r),
			})
		}
		metrics.LivePushes.WithLabelValues(event, strconv.FormatBool(reached > 0)).Inc()
	}()

	return pusher.PushToUser(recipientID, event, data)
}
