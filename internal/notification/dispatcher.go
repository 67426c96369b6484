package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/metrics"
	"delivery-core/internal/identity"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NotificationStore is the durable record the dispatcher writes to.
type NotificationStore interface {
	Save(ctx context.Context, n *Notification) error
}

// Auditor receives a copy of every stored notification. Failures are logged only.
type Auditor interface {
	Index(ctx context.Context, n *Notification) error
}

// SendRequest is one logical notification addressed either to roles or to explicit user ids.
type SendRequest struct {
	Title       string
	Message     string
	ActionURL   string
	ActionText  string
	Attachments []Attachment
	Roles       []string
	UserIDs     []string
	Channels    []string
}

type DispatcherConfig struct {
	MaxConcurrency  int
	DispatchTimeout time.Duration
}

// Dispatcher fans one notification out to every eligible recipient on every requested channel.
type Dispatcher struct {
	resolver *Resolver
	adapters map[Channel]ChannelAdapter
	store    NotificationStore
	inapp    *InAppDelivery
	auditor  Auditor
	cfg      DispatcherConfig
	now      func() time.Time
	logger   logger.Logger
}

func NewDispatcher(resolver *Resolver, adapters []ChannelAdapter, store NotificationStore, inapp *InAppDelivery, auditor Auditor, cfg DispatcherConfig, log logger.Logger) *Dispatcher {
	byChannel := make(map[Channel]ChannelAdapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Dispatcher{
		resolver: resolver,
		adapters: byChannel,
		store:    store,
		inapp:    inapp,
		auditor:  auditor,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Send resolves recipients, attempts every channel, stores the result and then pushes
// in-app events. Channel sends run detached from ctx's cancellation so a caller that
// disconnects does not abort deliveries already under way.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*Notification, error) {
	channels, roles, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	target := "roles"
	if len(roles) == 0 {
		target = "direct"
	}
	defer func() {
		metrics.DispatchDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DispatchTimeout)
	defer cancel()

	var recipients []Recipient
	if len(roles) > 0 {
		recipients, err = d.resolver.ResolveRoles(ctx, roles)
	} else {
		recipients, err = d.resolver.ResolveIDs(ctx, req.UserIDs)
	}
	if err != nil {
		return nil, err
	}

	n := &Notification{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Message:     req.Message,
		ActionURL:   req.ActionURL,
		ActionText:  req.ActionText,
		Attachments: req.Attachments,
		Channels:    channels,
		CreatedAt:   d.now(),
	}
	if len(roles) > 0 {
		n.Roles = req.Roles
	} else {
		n.RecipientIDs = req.UserIDs
	}

	payload := Payload{
		NotificationID: n.ID,
		Title:          n.Title,
		Message:        n.Message,
		ActionURL:      n.ActionURL,
		ActionText:     n.ActionText,
		Attachments:    n.Attachments,
	}

	receivers := make([]Receiver, len(recipients))
	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrency)
	for i, r := range recipients {
		g.Go(func() error {
			receivers[i] = d.attemptAll(ctx, r, payload, channels)
			return nil
		})
	}
	_ = g.Wait()

	for _, rcv := range receivers {
		if len(rcv.Attempts) > 0 {
			n.Receivers = append(n.Receivers, rcv)
		}
	}
	if len(n.Receivers) == 0 {
		return nil, errors.NewNoEligibleRecipientsError("no channel could be attempted for any recipient")
	}

	if err := d.store.Save(ctx, n); err != nil {
		d.logger.Error("failed to store notification", map[string]interface{}{
			"notificationId": n.ID,
			"error":          err,
		})
		return nil, err
	}
	metrics.NotificationsPersisted.Inc()

	if d.inapp != nil {
		d.inapp.Deliver(ctx, n)
	}
	if d.auditor != nil {
		if err := d.auditor.Index(ctx, n); err != nil {
			d.logger.Warn("audit mirror failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
		}
	}

	d.logger.Info("notification dispatched", map[string]interface{}{
		"notificationId": n.ID,
		"receivers":      len(n.Receivers),
		"channels":       channels,
	})
	return n, nil
}

// attemptAll runs every channel for one recipient. A failure on one channel never
// prevents the others.
func (d *Dispatcher) attemptAll(ctx context.Context, r Recipient, p Payload, channels []Channel) Receiver {
	rcv := Receiver{
		RecipientID:   r.ID,
		RecipientType: r.Type,
		Attempts:      make([]ChannelAttempt, 0, len(channels)),
	}

	for _, ch := range channels {
		result := d.attempt(ctx, ch, r, p)

		attempt := ChannelAttempt{
			Channel: ch,
			Status:  result.Status,
			Error:   result.Error,
			Detail:  result.Detail,
		}
		if result.Status == StatusSent {
			sentAt := d.now()
			attempt.SentAt = &sentAt
		}
		metrics.ChannelAttempts.WithLabelValues(string(ch), string(attempt.Status)).Inc()
		rcv.Attempts = append(rcv.Attempts, attempt)
	}
	return rcv
}

func (d *Dispatcher) attempt(ctx context.Context, ch Channel, r Recipient, p Payload) (result ChannelResult) {
	adapter, ok := d.adapters[ch]
	if !ok {
		return failed("%s channel is not configured", ch)
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("channel adapter panicked", map[string]interface{}{
				"channel":     ch,
				"recipientId": r.ID,
				"panic":       fmt.Sprint(rec),
			})
			result = failed("%s adapter panicked: %v", ch, rec)
		}
	}()

	result = adapter.Attempt(ctx, r, p)
	if result.Status != StatusSent && result.Status != StatusFailed {
		result = failed("%s adapter returned non-terminal status %q", ch, result.Status)
	}
	return result
}

func validateRequest(req SendRequest) ([]Channel, []identity.RecipientType, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, nil, errors.NewValidationError("title is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, nil, errors.NewValidationError("message is required")
	}

	channels, err := ParseChannels(req.Channels)
	if err != nil {
		return nil, nil, errors.NewValidationError(err.Error())
	}

	switch {
	case len(req.Roles) > 0 && len(req.UserIDs) > 0:
		return nil, nil, errors.NewValidationError("roles and userIds are mutually exclusive")
	case len(req.Roles) == 0 && len(req.UserIDs) == 0:
		return nil, nil, errors.NewValidationError("roles or userIds are required")
	}

	roles := make([]identity.RecipientType, 0, len(req.Roles))
	for _, raw := range req.Roles {
		rt, ok := identity.ParseRecipientType(raw)
		if !ok {
			return nil, nil, errors.NewValidationError(fmt.Sprintf("unknown role %q", raw))
		}
		roles = append(roles, rt)
	}
	return channels, roles, nil
}
