package tracking

import "time"

// TimelineEntry is appended once per transition and never edited.
type TimelineEntry struct {
	Status      Status    `json:"status"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// DriverLocation holds only the latest reported position.
type DriverLocation struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Order struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customerId"`
	RestaurantID   string          `json:"restaurantId"`
	Status         Status          `json:"status"`
	Timeline       []TimelineEntry `json:"timeline"`
	DriverLocation *DriverLocation `json:"driverLocation,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// StatusUpdateEvent is the payload of order-status-update.
type StatusUpdateEvent struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Order   *Order `json:"order"`
}
