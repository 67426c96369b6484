package tracking

import (
	"context"
	"strings"
	"sync"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/metrics"
	"delivery-core/internal/realtime"
)

// OrderStore is the durable side of tracking.
type OrderStore interface {
	Create(ctx context.Context, id, customerID, restaurantID string) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	Transition(ctx context.Context, id string, to Status) (*Order, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64, at time.Time) (bool, error)
}

// Broadcaster emits to rooms across every realtime namespace.
type Broadcaster interface {
	EmitToRooms(event string, data interface{}, rooms ...string) int
	EmitToOrder(orderID, event string, data interface{}) int
}

type Service struct {
	store       OrderStore
	broadcaster Broadcaster
	logger      logger.Logger
	fanouts     sync.WaitGroup
}

func NewService(store OrderStore, broadcaster Broadcaster, log logger.Logger) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		logger:      log.WithFields(map[string]interface{}{"component": "tracking"}),
	}
}

func (s *Service) Create(ctx context.Context, id, customerID, restaurantID string) (*Order, error) {
	id, customerID, restaurantID = strings.TrimSpace(id), strings.TrimSpace(customerID), strings.TrimSpace(restaurantID)
	if id == "" || customerID == "" || restaurantID == "" {
		return nil, errors.NewValidationError("id, customerId and restaurantId are required")
	}
	return s.store.Create(ctx, id, customerID, restaurantID)
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// UpdateStatus returns as soon as the transition is stored. The status update
// is broadcast afterwards on its own goroutine.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	order, err := s.store.Transition(ctx, id, to)
	if err != nil {
		return nil, err
	}
	metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("order status updated", map[string]interface{}{"orderId": id, "status": to})

	snapshot := *order
	s.fanouts.Add(1)
	go func() {
		defer s.fanouts.Done()
		s.fanOut(&snapshot)
	}()
	return order, nil
}

// fanOut emits to the order, restaurant and customer rooms. Each target is
// attempted regardless of what happened to the others.
func (s *Service) fanOut(order *Order) {
	event := StatusUpdateEvent{
		OrderID: order.ID,
		Status:  order.Status,
		Message: statusMessage(order.ID, order.Status),
		Order:   order,
	}

	targets := []struct {
		name string
		emit func() int
	}{
		{"order", func() int {
			return s.broadcaster.EmitToOrder(order.ID, realtime.EventOrderStatusUpdate, event)
		}},
		{"restaurant", func() int {
			return s.broadcaster.EmitToRooms(realtime.EventOrderStatusUpdate, event, realtime.RestaurantRoom(order.RestaurantID))
		}},
		{"customer", func() int {
			return s.broadcaster.EmitToRooms(realtime.EventOrderStatusUpdate, event, realtime.CustomerRoom(order.CustomerID))
		}},
	}

	for _, target := range targets {
		s.emitSafely(order.ID, target.name, target.emit)
	}
}

func (s *Service) emitSafely(orderID, target string, emit func() int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status fan-out target failed", map[string]interface{}{
				"orderId": orderID,
				"target":  target,
				"panic":   r,
			})
		}
	}()
	delivered := emit()
	s.logger.Debug("status fan-out", map[string]interface{}{
		"orderId":   orderID,
		"target":    target,
		"delivered": delivered,
	})
}

// HandleLocation stores the latest position best effort and always broadcasts
// it to the order's rooms.
func (s *Service) HandleLocation(ctx context.Context, loc realtime.Location) error {
	applied, err := s.store.UpdateLocation(ctx, loc.OrderID, loc.Lat, loc.Lng, loc.Timestamp)
	switch {
	case err != nil:
		s.logger.Warn("failed to persist driver location", map[string]interface{}{
			"orderId": loc.OrderID,
			"error":   err.Error(),
		})
	case !applied:
		s.logger.Debug("driver location not applied (stale or unknown order)", map[string]interface{}{"orderId": loc.OrderID})
	}

	s.broadcaster.EmitToOrder(loc.OrderID, realtime.EventRiderLocationUpdate, loc)
	return nil
}

// Wait blocks until in-flight fan-outs finish.
func (s *Service) Wait() {
	s.fanouts.Wait()
}
