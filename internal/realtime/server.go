package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"delivery-core/internal/common/config"
	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const eventTimeout = 5 * time.Second

// Server holds one hub per namespace and upgrades websocket requests onto them.
type Server struct {
	hubs         map[string]*Hub
	routes       map[string]eventHandler
	locations    LocationHandler
	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	errors       *errors.ErrorHandler
	logger       logger.Logger
}

func NewServer(cfg config.RealtimeConfig, namespaces []string, log logger.Logger) *Server {
	log = log.WithFields(map[string]interface{}{"component": "realtime"})

	s := &Server{
		hubs:         make(map[string]*Hub, len(namespaces)),
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: time.Duration(cfg.WriteTimeout) * time.Millisecond,
		errors:       errors.NewErrorHandler(log),
		logger:       log,
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = 64
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	for _, ns := range namespaces {
		s.hubs[ns] = NewHub(ns, log)
	}
	s.routes = s.handlers()
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// Hub returns the hub for namespace, or nil.
func (s *Server) Hub(namespace string) *Hub {
	return s.hubs[namespace]
}

// SetLocationHandler routes riderLocation events. Without one, locations are
// only rebroadcast.
func (s *Server) SetLocationHandler(h LocationHandler) {
	s.locations = h
}

func (s *Server) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/:namespace", s.handleUpgrade())
}

func (s *Server) handleUpgrade() gin.HandlerFunc {
	return func(c *gin.Context) {
		hub, ok := s.hubs[c.Param("namespace")]
		if !ok {
			s.errors.Respond(c, errors.NewNotFoundError("namespace", c.Param("namespace")))
			return
		}

		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		conn := newConn(hub, ws, s.sendBuffer, s.writeTimeout)
		conn.serve(c.Request.Context(), s.dispatchWithTimeout)
	}
}

func (s *Server) dispatchWithTimeout(ctx context.Context, c *Conn, f Frame) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	s.dispatch(ctx, c, f)
}

// EmitToRooms emits in every namespace; a connection lives in exactly one hub
// so each is reached at most once.
func (s *Server) EmitToRooms(event string, data interface{}, rooms ...string) int {
	delivered := 0
	for _, hub := range s.hubs {
		delivered += hub.EmitToRooms(event, data, rooms...)
	}
	return delivered
}

// EmitToOrder emits to the order's canonical room and its compatibility rooms.
func (s *Server) EmitToOrder(orderID, event string, data interface{}) int {
	return s.EmitToRooms(event, data, Normalize(orderID).Rooms()...)
}

func (s *Server) deliverRemote(namespace, event string, rooms []string, payload json.RawMessage) {
	hub, ok := s.hubs[namespace]
	if !ok {
		return
	}
	hub.emitLocal(event, payload, rooms)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Shutdown disconnects every client. Hijacked connections are not closed by
// http.Server.Shutdown.
func (s *Server) Shutdown() {
	for _, hub := range s.hubs {
		hub.closeAll()
	}
}
