package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/identity"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc                func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	CreatePlatformEndpointFunc func(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func (m *MockSNSService) CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error) {
	return m.CreatePlatformEndpointFunc(ctx, params, optFns...)
}

type fakeDirectory struct {
	byRole    map[identity.RecipientType][]identity.User
	byID      map[string]identity.User
	tokens    map[string][]string
	failRoles map[identity.RecipientType]error
	failIDs   map[string]error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byRole:    map[identity.RecipientType][]identity.User{},
		byID:      map[string]identity.User{},
		tokens:    map[string][]string{},
		failRoles: map[identity.RecipientType]error{},
		failIDs:   map[string]error{},
	}
}

func (f *fakeDirectory) addUser(u identity.User) {
	f.byID[u.ID] = u
	f.byRole[u.Role] = append(f.byRole[u.Role], u)
}

func (f *fakeDirectory) UsersByRole(_ context.Context, role identity.RecipientType) ([]identity.User, error) {
	if err, ok := f.failRoles[role]; ok {
		return nil, err
	}
	return f.byRole[role], nil
}

func (f *fakeDirectory) UserByID(_ context.Context, id string) (*identity.User, error) {
	if err, ok := f.failIDs[id]; ok {
		return nil, err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("user", id)
	}
	return &u, nil
}

func (f *fakeDirectory) DeviceTokens(_ context.Context, id string) ([]string, error) {
	return f.tokens[id], nil
}

type pushedEvent struct {
	UserID string
	Event  string
	Data   interface{}
}

// fakePusher records pushes and reports a connection only for online users.
type fakePusher struct {
	mu     sync.Mutex
	online map[string]bool
	events []pushedEvent
	panics bool
}

func newFakePusher(online ...string) *fakePusher {
	p := &fakePusher{online: map[string]bool{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePusher) PushToUser(userID, event string, data interface{}) int {
	if p.panics {
		panic("socket closed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return 0
	}
	p.events = append(p.events, pushedEvent{UserID: userID, Event: event, Data: data})
	return 1
}

func (p *fakePusher) eventsFor(userID string) []pushedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushedEvent
	for _, e := range p.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type attemptKey struct {
	notificationID string
	recipientID    string
	recipientType  identity.RecipientType
	channel        Channel
}

// memStore mirrors the PostgreSQL store's row-level semantics in memory.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]*Notification
	attempts      map[attemptKey]*ChannelAttempt
	order         []string
	saveErr       error
}

func newMemStore() *memStore {
	return &memStore{
		notifications: map[string]*Notification{},
		attempts:      map[attemptKey]*ChannelAttempt{},
	}
}

func (s *memStore) Save(_ context.Context, n *Notification) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if len(n.Receivers) == 0 {
		return errors.NewNoEligibleRecipientsError("notification has no receivers")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	s.notifications[n.ID] = &copied
	s.order = append(s.order, n.ID)
	for _, rcv := range n.Receivers {
		for _, a := range rcv.Attempts {
			a := a
			s.attempts[attemptKey{n.ID, rcv.RecipientID, rcv.RecipientType, a.Channel}] = &a
		}
	}
	return nil
}

func (s *memStore) attempt(notificationID, recipientID string, rt identity.RecipientType, ch Channel) *ChannelAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[attemptKey{notificationID, recipientID, rt, ch}]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

func (s *memStore) UnreadCount(_ context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for k, a := range s.attempts {
		if k.recipientID == recipientID && k.channel == ChannelInApp && a.Status == StatusSent && !a.Read {
			seen[k.notificationID] = true
		}
	}
	return len(seen), nil
}

func (s *memStore) MarkRead(_ context.Context, notificationID, recipientID string, rt identity.RecipientType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey{notificationID, recipientID, rt, ChannelInApp}]
	if !ok || a.Status != StatusSent {
		return false, nil
	}
	a.Read = true
	if a.ReadAt == nil {
		now := time.Now().UTC()
		a.ReadAt = &now
	}
	return true, nil
}

func (s *memStore) ListUnread(_ context.Context, recipientID string, limit, offset int) ([]InboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []InboxItem
	for k, a := range s.attempts {
		if k.recipientID != recipientID || k.channel != ChannelInApp || a.Status != StatusSent || a.Read {
			continue
		}
		n := s.notifications[k.notificationID]
		items = append(items, InboxItem{
			NotificationID: n.ID,
			Title:          n.Title,
			Message:        n.Message,
			RecipientType:  k.recipientType,
			CreatedAt:      n.CreatedAt,
			SentAt:         a.SentAt,
			DeliveredAt:    a.DeliveredAt,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].NotificationID < items[j].NotificationID })
	if offset >= len(items) {
		return []InboxItem{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *memStore) MarkDelivered(_ context.Context, recipientID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		for k, a := range s.attempts {
			if k.notificationID == id && k.recipientID == recipientID && k.channel == ChannelInApp && a.DeliveredAt == nil {
				a.DeliveredAt = &now
			}
		}
	}
	return nil
}
