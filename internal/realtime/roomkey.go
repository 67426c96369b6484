package realtime

import (
	"regexp"
	"strings"
)

// prefixed matches order identifiers such as ORD-42, order_42, ord:7f3a or ORD#42.
// Only the ord and order prefixes qualify, so UUIDs and other hyphenated ids keep
// a single room.
var prefixed = regexp.MustCompile(`(?i)^(?:ord|order)[-_:#]([A-Za-z0-9]+)$`)

// RoomKey is the set of rooms that name the same logical order. Canonical is the
// identifier exactly as presented; Legacy holds the older formats clients may
// still have joined with.
type RoomKey struct {
	Canonical string
	Legacy    []string
}

// Normalize derives the room key for an order identifier.
func Normalize(id string) RoomKey {
	id = strings.TrimSpace(id)
	key := RoomKey{Canonical: id}
	if m := prefixed.FindStringSubmatch(id); m != nil && m[1] != id {
		key.Legacy = []string{m[1]}
	}
	return key
}

// Rooms returns the canonical room followed by every legacy room.
func (k RoomKey) Rooms() []string {
	if k.Canonical == "" {
		return nil
	}
	return append([]string{k.Canonical}, k.Legacy...)
}

// Room names for the private and owner channels. Order rooms use the bare order id.
func UserRoom(userID string) string             { return "user:" + userID }
func CustomerRoom(customerID string) string     { return "customer:" + customerID }
func RestaurantRoom(restaurantID string) string { return "restaurant:" + restaurantID }
