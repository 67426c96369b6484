// Package identity is the client for the user directory service that owns
// profiles, contact data and registered device tokens.
package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"delivery-core/internal/common/config"
	"delivery-core/internal/common/errors"
	commonhttp "delivery-core/internal/common/http"
	"delivery-core/internal/common/logger"
)

const serviceName = "identity"

// RecipientType is both the directory role of a user and the realtime namespace serving it.
type RecipientType string

const (
	RecipientCustomer   RecipientType = "customer"
	RecipientRestaurant RecipientType = "restaurant"
	RecipientAdmin      RecipientType = "admin"
	RecipientDelivery   RecipientType = "delivery"
)

// RecipientTypes lists every known type in a stable order.
var RecipientTypes = []RecipientType{RecipientCustomer, RecipientRestaurant, RecipientAdmin, RecipientDelivery}

// ParseRecipientType validates a role or namespace name.
func ParseRecipientType(s string) (RecipientType, bool) {
	t := RecipientType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range RecipientTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// User is a directory entry.
type User struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
	Phone string        `json:"phone"`
	Role  RecipientType `json:"role"`
}

type deviceTokensResponse struct {
	Tokens []string `json:"tokens"`
}

// Client talks to the directory over HTTP.
type Client struct {
	http   *commonhttp.Client
	logger logger.Logger
}

func NewClient(cfg config.IdentityConfig, log logger.Logger) *Client {
	httpClient := commonhttp.NewClient(cfg.BaseURL, config.GetDuration(cfg.Timeout))
	if cfg.APIKey != "" {
		httpClient.WithHeader("X-API-Key", cfg.APIKey)
	}
	return &Client{
		http:   httpClient,
		logger: log.WithFields(map[string]interface{}{"collaborator": serviceName}),
	}
}

// UsersByRole returns every user holding role.
func (c *Client) UsersByRole(ctx context.Context, role RecipientType) ([]User, error) {
	var users []User
	if err := c.http.GetJSON(ctx, "/users", url.Values{"role": {string(role)}}, &users); err != nil {
		return nil, c.translate(err, "role", string(role))
	}
	for i := range users {
		if users[i].Role == "" {
			users[i].Role = role
		}
	}
	return users, nil
}

// UserByID fetches a single user. An unknown id yields a NOT_FOUND StandardError.
func (c *Client) UserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.http.GetJSON(ctx, "/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, c.translate(err, "user", id)
	}
	return &user, nil
}

// DeviceTokens returns the push tokens registered for a user. No tokens is not an error.
func (c *Client) DeviceTokens(ctx context.Context, id string) ([]string, error) {
	var resp deviceTokensResponse
	err := c.http.GetJSON(ctx, "/users/"+url.PathEscape(id)+"/device-tokens", nil, &resp)
	if err != nil {
		var statusErr *commonhttp.StatusError
		if stderrors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, c.translate(err, "device-tokens", id)
	}

	tokens := make([]string, 0, len(resp.Tokens))
	for _, token := range resp.Tokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func (c *Client) translate(err error, resource, key string) error {
	var statusErr *commonhttp.StatusError
	if stderrors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return errors.NewNotFoundError(resource, key)
	}
	c.logger.Warn("directory request failed", map[string]interface{}{
		"resource": resource,
		"key":      key,
		"error":    err,
	})
	return errors.NewUpstreamUnavailableError(serviceName, fmt.Errorf("%s %s: %w", resource, key, err))
}
