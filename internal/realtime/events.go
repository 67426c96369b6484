package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/validation"
)

// Client events.
const (
	EventJoin               = "join"
	EventJoinOrder          = "join-order"
	EventJoinCustomer       = "join-customer"
	EventJoinRestaurant     = "join-restaurant"
	EventRiderLocation      = "riderLocation"
	EventRiderAcceptOrder   = "riderAcceptOrder"
	EventCustomerTrackOrder = "customerTrackOrder"
)

// Server events.
const (
	EventJoined                     = "joined"
	EventJoinedOrder                = "joined-order"
	EventJoinedCustomer             = "joined-customer"
	EventJoinedRestaurant           = "joined-restaurant"
	EventTrackingSessionEstablished = "trackingSessionEstablished"
	EventRiderLocationUpdate        = "riderLocationUpdate"
	EventOrderStatusUpdate          = "order-status-update"
	EventError                      = "error"
)

const idProperty = `{"type": ["string", "number"], "minLength": 1}`

func idSchema(name, field string) *validation.Schema {
	return validation.MustCompile(name, fmt.Sprintf(`{
		"type": "object",
		"required": [%q],
		"properties": {%q: %s}
	}`, field, field, idProperty))
}

var schemas = map[string]*validation.Schema{
	EventJoin:               idSchema(EventJoin, "userId"),
	EventJoinOrder:          idSchema(EventJoinOrder, "orderId"),
	EventJoinCustomer:       idSchema(EventJoinCustomer, "customerId"),
	EventJoinRestaurant:     idSchema(EventJoinRestaurant, "restaurantId"),
	EventRiderAcceptOrder:   idSchema(EventRiderAcceptOrder, "orderId"),
	EventCustomerTrackOrder: idSchema(EventCustomerTrackOrder, "orderId"),
	EventRiderLocation: validation.MustCompile(EventRiderLocation, `{
		"type": "object",
		"required": ["orderId", "lat", "lng"],
		"properties": {
			"orderId":   `+idProperty+`,
			"lat":       {"type": "number", "minimum": -90, "maximum": 90},
			"lng":       {"type": "number", "minimum": -180, "maximum": 180},
			"timestamp": {"type": ["string", "number"]}
		}
	}`),
}

// Location is a rider position reported for one order.
type Location struct {
	OrderID   string    `json:"orderId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationHandler receives validated rider locations. It owns persistence and
// the riderLocationUpdate broadcast.
type LocationHandler interface {
	HandleLocation(ctx context.Context, loc Location) error
}

// ErrorEvent is sent back to the emitting client when an event is rejected.
type ErrorEvent struct {
	Event   string   `json:"event"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type eventHandler func(ctx context.Context, c *Conn, data map[string]interface{}) error

func (s *Server) handlers() map[string]eventHandler {
	return map[string]eventHandler{
		EventJoin: func(_ context.Context, c *Conn, data map[string]interface{}) error {
			userID := idString(data["userId"])
			c.hub.Join(c, UserRoom(userID))
			c.Emit(EventJoined, map[string]string{"userId": userID})
			return nil
		},
		EventJoinOrder: func(_ context.Context, c *Conn, data map[string]interface{}) error {
			orderID := idString(data["orderId"])
			c.hub.Join(c, Normalize(orderID).Canonical)
			c.Emit(EventJoinedOrder, map[string]string{"orderId": orderID})
			return nil
		},
		EventJoinCustomer: func(_ context.Context, c *Conn, data map[string]interface{}) error {
			customerID := idString(data["customerId"])
			c.hub.Join(c, CustomerRoom(customerID))
			c.Emit(EventJoinedCustomer, map[string]string{"customerId": customerID})
			return nil
		},
		EventJoinRestaurant: func(_ context.Context, c *Conn, data map[string]interface{}) error {
			restaurantID := idString(data["restaurantId"])
			c.hub.Join(c, RestaurantRoom(restaurantID))
			c.Emit(EventJoinedRestaurant, map[string]string{"restaurantId": restaurantID})
			return nil
		},
		EventRiderAcceptOrder:   s.trackingSession("rider"),
		EventCustomerTrackOrder: s.trackingSession("customer"),
		EventRiderLocation:      s.handleLocation,
	}
}

func (s *Server) trackingSession(role string) eventHandler {
	return func(_ context.Context, c *Conn, data map[string]interface{}) error {
		orderID := idString(data["orderId"])
		c.hub.Join(c, Normalize(orderID).Canonical)
		c.Emit(EventTrackingSessionEstablished, map[string]string{"orderId": orderID, "role": role})
		return nil
	}
}

func (s *Server) handleLocation(ctx context.Context, _ *Conn, data map[string]interface{}) error {
	ts, err := parseTimestamp(data["timestamp"])
	if err != nil {
		return errors.NewValidationError(err.Error())
	}
	loc := Location{
		OrderID:   idString(data["orderId"]),
		Lat:       data["lat"].(float64),
		Lng:       data["lng"].(float64),
		Timestamp: ts,
	}

	if s.locations == nil {
		s.EmitToOrder(loc.OrderID, EventRiderLocationUpdate, loc)
		return nil
	}
	return s.locations.HandleLocation(ctx, loc)
}

// dispatch validates one client frame and runs its handler. Rejections are
// reported to the client as an error event; the connection stays open.
func (s *Server) dispatch(ctx context.Context, c *Conn, f Frame) {
	handler, ok := s.routes[f.Event]
	if !ok {
		c.Emit(EventError, ErrorEvent{Event: f.Event, Code: string(errors.ErrCodeValidationFailed), Message: "unknown event"})
		return
	}

	raw := []byte(f.Data)
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if result := schemas[f.Event].Validate(raw); !result.Valid {
		c.Emit(EventError, ErrorEvent{
			Event:   f.Event,
			Code:    string(errors.ErrCodeValidationFailed),
			Message: "invalid payload",
			Details: result.GetErrorMessages(),
		})
		return
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Emit(EventError, ErrorEvent{Event: f.Event, Code: string(errors.ErrCodeValidationFailed), Message: err.Error()})
		return
	}

	if err := s.runHandler(ctx, handler, c, data); err != nil {
		stdErr := errors.Normalize(err)
		c.logger.Warn("event rejected", map[string]interface{}{
			"event":     f.Event,
			"errorCode": string(stdErr.Code),
			"error":     err.Error(),
		})
		c.Emit(EventError, ErrorEvent{Event: f.Event, Code: string(stdErr.Code), Message: stdErr.Message, Details: detailList(stdErr.Details)})
	}
}

func (s *Server) runHandler(ctx context.Context, h eventHandler, c *Conn, data map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h(ctx, c, data)
}

// idString accepts ids sent as JSON strings or numbers.
func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// parseTimestamp accepts RFC 3339 strings or epoch milliseconds. A missing
// timestamp means now.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Now().UTC(), nil
	case float64:
		return time.UnixMilli(int64(ts)).UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q is not RFC 3339", ts)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp %v", v)
	}
}

func detailList(details string) []string {
	if details == "" {
		return nil
	}
	return []string{details}
}
