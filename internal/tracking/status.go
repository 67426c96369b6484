package tracking

import (
	"fmt"
	"strings"

	"delivery-core/internal/common/errors"
)

type Status string

const (
	StatusOrderReceived  Status = "order-received"
	StatusPreparing      Status = "preparing-your-order"
	StatusWrappingUp     Status = "wrapping-up"
	StatusPickingUp      Status = "picking-up"
	StatusHeadingYourWay Status = "heading-your-way"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// progression is the forward order of the delivery lifecycle. Cancelled sits
// outside it.
var progression = []Status{
	StatusOrderReceived,
	StatusPreparing,
	StatusWrappingUp,
	StatusPickingUp,
	StatusHeadingYourWay,
	StatusDelivered,
}

var descriptions = map[Status]string{
	StatusOrderReceived:  "Order received by the restaurant",
	StatusPreparing:      "The restaurant is preparing your order",
	StatusWrappingUp:     "Your order is being packed",
	StatusPickingUp:      "A rider is picking up your order",
	StatusHeadingYourWay: "Your order is on its way",
	StatusDelivered:      "Your order has been delivered",
	StatusCancelled:      "Your order has been cancelled",
}

func rank(s Status) int {
	for i, p := range progression {
		if p == s {
			return i
		}
	}
	return -1
}

// ParseStatus accepts the canonical status names, case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == StatusCancelled || rank(s) >= 0 {
		return s, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Description is the human text recorded in the timeline.
func (s Status) Description() string {
	if d, ok := descriptions[s]; ok {
		return d
	}
	return string(s)
}

// CanTransition allows moving strictly forward (skipping is fine) and cancelling
// any order that has not reached a terminal state.
func CanTransition(from, to Status) error {
	if from.Terminal() {
		return errors.NewInvalidStatusTransitionError(string(from), string(to))
	}
	if to == StatusCancelled {
		return nil
	}
	fromRank, toRank := rank(from), rank(to)
	if fromRank < 0 || toRank < 0 || toRank <= fromRank {
		return errors.NewInvalidStatusTransitionError(string(from), string(to))
	}
	return nil
}

// statusMessage is the text sent with order-status-update events.
func statusMessage(orderID string, s Status) string {
	return fmt.Sprintf("Order %s: %s", orderID, s.Description())
}
