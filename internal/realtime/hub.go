package realtime

import (
	"encoding/json"
	"sync"

	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/metrics"
)

// Publisher forwards emissions to other service instances.
type Publisher interface {
	Publish(namespace, event string, rooms []string, payload json.RawMessage)
}

// Hub owns the connections and rooms of one namespace. Rooms exist only while
// they have members.
type Hub struct {
	namespace string
	logger    logger.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]map[string]struct{}

	publisher Publisher
}

func NewHub(namespace string, log logger.Logger) *Hub {
	return &Hub{
		namespace: namespace,
		logger:    log.WithFields(map[string]interface{}{"namespace": namespace}),
		rooms:     make(map[string]map[*Conn]struct{}),
		conns:     make(map[*Conn]map[string]struct{}),
	}
}

func (h *Hub) Namespace() string { return h.namespace }

func (h *Hub) setPublisher(p Publisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = make(map[string]struct{})
	n := len(h.conns)
	h.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(h.namespace).Inc()
	h.logger.Debug("connection registered", map[string]interface{}{"connId": c.id, "connections": n})
}

// unregister removes c from every room it joined. Empty rooms are dropped.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	joined, ok := h.conns[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	for room := range joined {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.conns, c)
	h.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(h.namespace).Dec()
}

// Join adds c to room. Joining twice is a no-op.
func (h *Hub) Join(c *Conn, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.conns[c]
	if !ok || room == "" {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	joined[room] = struct{}{}
	return true
}

// Forwards reports whether emissions also reach other instances through a relay.
// Local delivery counts then say nothing about remote members.
func (h *Hub) Forwards() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.publisher != nil
}

// RoomSize reports the local membership of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// PushToUser emits to the private room of userID and reports how many local
// connections were reached.
func (h *Hub) PushToUser(userID, event string, data interface{}) int {
	return h.EmitToRooms(event, data, UserRoom(userID))
}

// EmitToRooms sends one message to every local connection in any of rooms,
// each connection at most once, and forwards it to other instances when a
// relay is attached.
func (h *Hub) EmitToRooms(event string, data interface{}, rooms ...string) int {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode event payload", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
		return 0
	}

	delivered := h.emitLocal(event, payload, rooms)

	h.mu.RLock()
	p := h.publisher
	h.mu.RUnlock()
	if p != nil {
		p.Publish(h.namespace, event, rooms, payload)
	}
	return delivered
}

func (h *Hub) emitLocal(event string, payload json.RawMessage, rooms []string) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", map[string]interface{}{"event": event, "error": err.Error()})
		return 0
	}

	h.mu.RLock()
	targets := make(map[*Conn]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	metrics.RoomEmits.WithLabelValues(h.namespace, event).Inc()
	if len(targets) == 0 {
		h.logger.Debug("emit to empty rooms", map[string]interface{}{"event": event, "rooms": rooms})
		return 0
	}

	delivered := 0
	for c := range targets {
		if c.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
