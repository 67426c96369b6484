package notification

import (
	"context"
	"strings"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/identity"
)

// Directory is the part of the identity service the engine depends on.
type Directory interface {
	UsersByRole(ctx context.Context, role identity.RecipientType) ([]identity.User, error)
	UserByID(ctx context.Context, id string) (*identity.User, error)
	DeviceTokens(ctx context.Context, id string) ([]string, error)
}

// Resolver turns roles or explicit ids into deduplicated, contactable recipients.
// A lookup failure for one role or id is logged and skipped.
type Resolver struct {
	directory Directory
	logger    logger.Logger
}

func NewResolver(directory Directory, log logger.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    log.WithFields(map[string]interface{}{"component": "resolver"}),
	}
}

// ResolveRoles collects every user holding any of roles.
func (r *Resolver) ResolveRoles(ctx context.Context, roles []identity.RecipientType) ([]Recipient, error) {
	acc := newRecipientSet()
	for _, role := range roles {
		users, err := r.directory.UsersByRole(ctx, role)
		if err != nil {
			r.logger.Warn("role lookup failed, continuing with remaining roles", map[string]interface{}{
				"role":  role,
				"error": err,
			})
			continue
		}
		for _, u := range users {
			acc.add(r.toRecipient(u, role))
		}
	}

	return r.finish(acc, "roles", len(roles))
}

// ResolveIDs looks up each explicit recipient id.
func (r *Resolver) ResolveIDs(ctx context.Context, ids []string) ([]Recipient, error) {
	acc := newRecipientSet()
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || acc.has(id) {
			continue
		}
		user, err := r.directory.UserByID(ctx, id)
		if err != nil {
			r.logger.Warn("recipient lookup failed, continuing with remaining ids", map[string]interface{}{
				"recipientId": id,
				"error":       err,
			})
			continue
		}
		acc.add(r.toRecipient(*user, ""))
	}

	return r.finish(acc, "userIds", len(ids))
}

func (r *Resolver) finish(acc *recipientSet, source string, requested int) ([]Recipient, error) {
	if len(acc.list) == 0 {
		return nil, errors.NewNoEligibleRecipientsError(source + " resolved to nobody with an email or phone")
	}
	r.logger.Debug("recipients resolved", map[string]interface{}{
		"source":    source,
		"requested": requested,
		"eligible":  len(acc.list),
		"excluded":  acc.excluded,
	})
	return acc.list, nil
}

func (r *Resolver) toRecipient(u identity.User, fallback identity.RecipientType) Recipient {
	rt, ok := identity.ParseRecipientType(string(u.Role))
	if !ok {
		rt = fallback
	}
	if rt == "" {
		rt = identity.RecipientCustomer
	}
	return Recipient{
		ID:    u.ID,
		Type:  rt,
		Name:  u.Name,
		Email: strings.TrimSpace(u.Email),
		Phone: strings.TrimSpace(u.Phone),
	}
}

type recipientSet struct {
	seen     map[string]struct{}
	list     []Recipient
	excluded int
}

func newRecipientSet() *recipientSet {
	return &recipientSet{seen: make(map[string]struct{})}
}

func (s *recipientSet) has(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// add keeps the first occurrence of each id and drops recipients with neither email nor phone.
func (s *recipientSet) add(r Recipient) {
	if r.ID == "" || s.has(r.ID) {
		return
	}
	s.seen[r.ID] = struct{}{}
	if r.Email == "" && r.Phone == "" {
		s.excluded++
		return
	}
	s.list = append(s.list, r)
}
