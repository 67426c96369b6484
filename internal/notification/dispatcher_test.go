package notification

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/retry"
	"delivery-core/internal/identity"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type dispatchFixture struct {
	directory *fakeDirectory
	store     *memStore
	pushers   map[identity.RecipientType]*fakePusher
	inapp     *InAppDelivery
	emails    *atomic.Int32
	sms       *atomic.Int32
	sesErr    error
}

func newDispatchFixture(t *testing.T) (*dispatchFixture, func(extra ...ChannelAdapter) *Dispatcher) {
	t.Helper()
	log := logger.NewTestLogger(t)

	f := &dispatchFixture{
		directory: newFakeDirectory(),
		store:     newMemStore(),
		pushers: map[identity.RecipientType]*fakePusher{
			identity.RecipientCustomer:   newFakePusher(),
			identity.RecipientRestaurant: newFakePusher(),
		},
		emails: &atomic.Int32{},
		sms:    &atomic.Int32{},
	}

	routes := map[identity.RecipientType]LivePusher{}
	for k, v := range f.pushers {
		routes[k] = v
	}
	guard := retry.New(3, time.Second, time.Millisecond, log)
	f.inapp = NewInAppDelivery(routes, f.store, guard, log)

	sesMock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			if f.sesErr != nil {
				return nil, f.sesErr
			}
			f.emails.Add(1)
			return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
		},
	}
	snsMock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			f.sms.Add(1)
			return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
		},
	}

	build := func(extra ...ChannelAdapter) *Dispatcher {
		adapters := []ChannelAdapter{
			NewEmailChannel(sesMock, "no-reply@delivery.example.com", log),
			NewSMSChannel(snsMock, "+1", 10, "", log),
			NewInAppChannel(),
		}
		adapters = append(adapters, extra...)
		return NewDispatcher(
			NewResolver(f.directory, log),
			adapters,
			f.store,
			f.inapp,
			nil,
			DispatcherConfig{MaxConcurrency: 4, DispatchTimeout: 5 * time.Second},
			log,
		)
	}
	return f, build
}

type panickingAdapter struct{ ch Channel }

func (p panickingAdapter) Channel() Channel { return p.ch }
func (p panickingAdapter) Attempt(context.Context, Recipient, Payload) ChannelResult {
	panic("gateway client nil")
}

// ==========================
// Core Functionality Tests
// ==========================

func TestDispatcher_EveryReceiverHasOneTerminalAttemptPerChannel(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "c1", Email: "c1@example.com", Phone: "0555 123 4567", Role: identity.RecipientCustomer})
	f.directory.addUser(identity.User{ID: "c2", Phone: "+15559876543", Role: identity.RecipientCustomer})
	f.directory.addUser(identity.User{ID: "r1", Email: "bad-address", Role: identity.RecipientRestaurant})

	d := build()
	n, err := d.Send(context.Background(), SendRequest{
		Title:    "Kitchen closing early",
		Message:  "Orders after 9pm will be cancelled",
		Roles:    []string{"customer", "restaurant"},
		Channels: []string{"EMAIL", "SMS", "IN_APP", "EMAIL", "PUSH"},
	})
	require.NoError(t, err)

	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS, ChannelInApp, ChannelPush}, n.Channels)
	require.Len(t, n.Receivers, 3)
	for _, rcv := range n.Receivers {
		require.Len(t, rcv.Attempts, 4, rcv.RecipientID)
		for i, a := range rcv.Attempts {
			assert.Equal(t, n.Channels[i], a.Channel)
			assert.Contains(t, []AttemptStatus{StatusSent, StatusFailed}, a.Status)
			if a.Status == StatusSent {
				assert.NotNil(t, a.SentAt)
			} else {
				assert.Nil(t, a.SentAt)
				assert.NotEmpty(t, a.Error)
			}
		}
	}

	// PUSH has no adapter registered in this fixture.
	push, _ := n.Receivers[0].Attempt(ChannelPush)
	assert.Equal(t, StatusFailed, push.Status)
	assert.Contains(t, push.Error, "not configured")

	c2Email, _ := n.Receivers[1].Attempt(ChannelEmail)
	assert.Equal(t, "no email address on file", c2Email.Error)

	r1SMS, _ := n.Receivers[2].Attempt(ChannelSMS)
	assert.Equal(t, "no phone number on file", r1SMS.Error)

	assert.Equal(t, 1, f.store.count())
}

func TestDispatcher_NoEligibleRecipientsIsRejectedAndNotPersisted(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "ghost", Role: identity.RecipientCustomer})

	_, err := build().Send(context.Background(), SendRequest{
		Title:    "Hello",
		Message:  "World",
		UserIDs:  []string{"ghost", "missing"},
		Channels: []string{"IN_APP"},
	})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoEligibleRecipients))
	assert.Equal(t, 400, errors.HTTPStatus(err))
	assert.Equal(t, 0, f.store.count())
}

func TestDispatcher_InAppSentWithoutConnection(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u", Email: "u@example.com", Role: identity.RecipientCustomer})

	n, err := build().Send(context.Background(), SendRequest{
		Title: "Promo", Message: "20% off", UserIDs: []string{"u"}, Channels: []string{"IN_APP"},
	})
	require.NoError(t, err)

	stored := f.store.attempt(n.ID, "u", identity.RecipientCustomer, ChannelInApp)
	require.NotNil(t, stored)
	assert.Equal(t, StatusSent, stored.Status)
	assert.False(t, stored.Read)
	assert.Empty(t, f.pushers[identity.RecipientCustomer].eventsFor("u"))

	count, err := f.inapp.UnreadCount(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_EndToEnd_EmailAndInAppToConnectedUser(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u1", Email: "u1@example.com", Role: identity.RecipientCustomer})
	f.pushers[identity.RecipientCustomer].online["u1"] = true

	before, err := f.inapp.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)

	n, err := build().Send(context.Background(), SendRequest{
		Title:    "Order Update",
		Message:  "Your order is on its way",
		UserIDs:  []string{"u1"},
		Channels: []string{"EMAIL", "IN_APP"},
	})
	require.NoError(t, err)

	require.Len(t, n.Receivers, 1)
	email, _ := n.Receivers[0].Attempt(ChannelEmail)
	inapp, _ := n.Receivers[0].Attempt(ChannelInApp)
	assert.Equal(t, StatusSent, email.Status)
	assert.Equal(t, StatusSent, inapp.Status)
	assert.Equal(t, int32(1), f.emails.Load())

	after, err := f.inapp.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	events := f.pushers[identity.RecipientCustomer].eventsFor("u1")
	require.Len(t, events, 2)
	assert.Equal(t, EventNotification, events[0].Event)
	live := events[0].Data.(LiveNotification)
	assert.Equal(t, n.ID, live.ID)
	assert.Equal(t, "Order Update", live.Title)
	assert.Equal(t, EventUnreadCount, events[1].Event)
	assert.Equal(t, UnreadCountEvent{Count: after}, events[1].Data)
}

func TestDispatcher_EndToEnd_MalformedEmailDoesNotBlockInApp(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u1", Email: "u1-at-example", Phone: "+15550001111", Role: identity.RecipientCustomer})

	n, err := build().Send(context.Background(), SendRequest{
		Title: "Order Update", Message: "...", UserIDs: []string{"u1"}, Channels: []string{"EMAIL", "IN_APP"},
	})
	require.NoError(t, err)

	email, _ := n.Receivers[0].Attempt(ChannelEmail)
	inapp, _ := n.Receivers[0].Attempt(ChannelInApp)
	assert.Equal(t, StatusFailed, email.Status)
	assert.Contains(t, email.Error, "invalid email address")
	assert.Equal(t, StatusSent, inapp.Status)
	assert.Equal(t, int32(0), f.emails.Load())
}

func TestDispatcher_GatewayErrorRecordedAsFailedAttempt(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.sesErr = stderrors.New("Throttling: Maximum sending rate exceeded")
	f.directory.addUser(identity.User{ID: "u1", Email: "u1@example.com", Phone: "+15550001111", Role: identity.RecipientCustomer})

	n, err := build().Send(context.Background(), SendRequest{
		Title: "t", Message: "m", UserIDs: []string{"u1"}, Channels: []string{"EMAIL", "SMS"},
	})
	require.NoError(t, err)

	email, _ := n.Receivers[0].Attempt(ChannelEmail)
	sms, _ := n.Receivers[0].Attempt(ChannelSMS)
	assert.Equal(t, StatusFailed, email.Status)
	assert.Contains(t, email.Error, "Throttling")
	assert.Equal(t, StatusSent, sms.Status)
}

func TestDispatcher_PanickingAdapterIsIsolated(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u1", Email: "u1@example.com", Role: identity.RecipientCustomer})

	d := build(panickingAdapter{ch: ChannelPush})
	n, err := d.Send(context.Background(), SendRequest{
		Title: "t", Message: "m", UserIDs: []string{"u1"}, Channels: []string{"PUSH", "IN_APP"},
	})
	require.NoError(t, err)

	push, _ := n.Receivers[0].Attempt(ChannelPush)
	inapp, _ := n.Receivers[0].Attempt(ChannelInApp)
	assert.Equal(t, StatusFailed, push.Status)
	assert.Contains(t, push.Error, "panicked")
	assert.Equal(t, StatusSent, inapp.Status)
}

func TestDispatcher_LivePushFailureKeepsAttemptSent(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u1", Email: "u1@example.com", Role: identity.RecipientCustomer})
	f.pushers[identity.RecipientCustomer].panics = true

	n, err := build().Send(context.Background(), SendRequest{
		Title: "t", Message: "m", UserIDs: []string{"u1"}, Channels: []string{"IN_APP"},
	})
	require.NoError(t, err)

	stored := f.store.attempt(n.ID, "u1", identity.RecipientCustomer, ChannelInApp)
	require.NotNil(t, stored)
	assert.Equal(t, StatusSent, stored.Status)
}

func TestDispatcher_StoreFailureSkipsLivePush(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u1", Email: "u1@example.com", Role: identity.RecipientCustomer})
	f.pushers[identity.RecipientCustomer].online["u1"] = true
	f.store.saveErr = errors.NewStoreUnavailableError("save notification", stderrors.New("connection refused"))

	_, err := build().Send(context.Background(), SendRequest{
		Title: "t", Message: "m", UserIDs: []string{"u1"}, Channels: []string{"IN_APP"},
	})

	require.Error(t, err)
	assert.Equal(t, 500, errors.HTTPStatus(err))
	assert.Empty(t, f.pushers[identity.RecipientCustomer].eventsFor("u1"))
}

func TestDispatcher_ContinuesWhenCallerCancels(t *testing.T) {
	f, build := newDispatchFixture(t)
	f.directory.addUser(identity.User{ID: "u1", Email: "u1@example.com", Role: identity.RecipientCustomer})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := build().Send(ctx, SendRequest{
		Title: "t", Message: "m", UserIDs: []string{"u1"}, Channels: []string{"EMAIL", "IN_APP"},
	})
	require.NoError(t, err)
	email, _ := n.Receivers[0].Attempt(ChannelEmail)
	assert.Equal(t, StatusSent, email.Status)
}

func TestDispatcher_ValidationErrors(t *testing.T) {
	_, build := newDispatchFixture(t)
	d := build()

	tests := []struct {
		name string
		req  SendRequest
		want string
	}{
		{"missing title", SendRequest{Message: "m", Roles: []string{"customer"}, Channels: []string{"SMS"}}, "title is required"},
		{"missing message", SendRequest{Title: "t", Roles: []string{"customer"}, Channels: []string{"SMS"}}, "message is required"},
		{"no channels", SendRequest{Title: "t", Message: "m", Roles: []string{"customer"}}, "at least one channel"},
		{"unknown channel", SendRequest{Title: "t", Message: "m", Roles: []string{"customer"}, Channels: []string{"FAX"}}, "unknown channel"},
		{"unknown role", SendRequest{Title: "t", Message: "m", Roles: []string{"chef"}, Channels: []string{"SMS"}}, "unknown role"},
		{"no audience", SendRequest{Title: "t", Message: "m", Channels: []string{"SMS"}}, "roles or userIds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Send(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
