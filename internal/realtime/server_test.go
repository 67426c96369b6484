package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLocations struct {
	mu     sync.Mutex
	server *Server
	seen   []Location
}

func (r *recordingLocations) HandleLocation(_ context.Context, loc Location) error {
	r.mu.Lock()
	r.seen = append(r.seen, loc)
	r.mu.Unlock()
	r.server.EmitToOrder(loc.OrderID, EventRiderLocationUpdate, loc)
	return nil
}

func startWS(t *testing.T, s *Server) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	s.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		s.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base, namespace string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(base+"/ws/"+namespace, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Frame{Event: event, Data: raw}))
}

func expect(t *testing.T, ws *websocket.Conn, event string) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, ws.ReadJSON(&f))
	require.Equal(t, event, f.Event, "payload: %s", string(f.Data))
	return f
}

func expectNothing(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f Frame
	err := ws.ReadJSON(&f)
	assert.Error(t, err, "unexpected frame %s", f.Event)
}

func TestServer_LocationRoundTrip(t *testing.T) {
	s := newTestServer(t)
	locations := &recordingLocations{server: s}
	s.SetLocationHandler(locations)
	base := startWS(t, s)

	customer := dial(t, base, "customer")
	send(t, customer, EventCustomerTrackOrder, map[string]string{"orderId": "ORD-42"})
	ack := expect(t, customer, EventTrackingSessionEstablished)
	assert.JSONEq(t, `{"orderId":"ORD-42","role":"customer"}`, string(ack.Data))

	legacy := dial(t, base, "customer")
	send(t, legacy, EventJoinOrder, map[string]interface{}{"orderId": 42})
	expect(t, legacy, EventJoinedOrder)

	bystander := dial(t, base, "customer")
	send(t, bystander, EventJoinOrder, map[string]string{"orderId": "ORD-43"})
	expect(t, bystander, EventJoinedOrder)

	rider := dial(t, base, "delivery")
	send(t, rider, EventRiderAcceptOrder, map[string]string{"orderId": "ORD-42"})
	expect(t, rider, EventTrackingSessionEstablished)

	send(t, rider, EventRiderLocation, map[string]interface{}{
		"orderId":   "ORD-42",
		"lat":       40.7128,
		"lng":       -74.006,
		"timestamp": "2026-03-01T12:00:00Z",
	})

	for _, ws := range []*websocket.Conn{customer, legacy, rider} {
		f := expect(t, ws, EventRiderLocationUpdate)
		var loc Location
		require.NoError(t, json.Unmarshal(f.Data, &loc))
		assert.Equal(t, "ORD-42", loc.OrderID)
		assert.InDelta(t, 40.7128, loc.Lat, 1e-9)
		assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), loc.Timestamp)
	}
	expectNothing(t, bystander)

	locations.mu.Lock()
	defer locations.mu.Unlock()
	require.Len(t, locations.seen, 1)
}

func TestServer_RejectsInvalidEvents(t *testing.T) {
	s := newTestServer(t)
	base := startWS(t, s)
	ws := dial(t, base, "restaurant")

	tests := []struct {
		name  string
		event string
		data  interface{}
	}{
		{"unknown event", "dance", map[string]string{}},
		{"missing id", EventJoinRestaurant, map[string]string{}},
		{"empty id", EventJoinOrder, map[string]string{"orderId": ""}},
		{"latitude out of range", EventRiderLocation, map[string]interface{}{"orderId": "1", "lat": 120.0, "lng": 0.0}},
		{"bad timestamp", EventRiderLocation, map[string]interface{}{"orderId": "1", "lat": 1.0, "lng": 1.0, "timestamp": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, ws, tt.event, tt.data)
			f := expect(t, ws, EventError)
			var e ErrorEvent
			require.NoError(t, json.Unmarshal(f.Data, &e))
			assert.Equal(t, tt.event, e.Event)
			assert.Equal(t, "VALIDATION_FAILED", e.Code)
		})
	}

	// The connection survives rejected events.
	send(t, ws, EventJoinRestaurant, map[string]string{"restaurantId": "r1"})
	expect(t, ws, EventJoinedRestaurant)
}

func TestServer_PrivateChannel(t *testing.T) {
	s := newTestServer(t)
	base := startWS(t, s)
	ws := dial(t, base, "customer")

	send(t, ws, EventJoin, map[string]string{"userId": "u1"})
	expect(t, ws, EventJoined)

	assert.Equal(t, 1, s.Hub("customer").PushToUser("u1", "unreadCount", map[string]int{"count": 2}))
	assert.Equal(t, 0, s.Hub("restaurant").PushToUser("u1", "unreadCount", map[string]int{"count": 2}))

	f := expect(t, ws, "unreadCount")
	assert.JSONEq(t, `{"count":2}`, string(f.Data))
}

func TestServer_UnknownNamespace(t *testing.T) {
	s := newTestServer(t)
	base := startWS(t, s)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/kitchen", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
