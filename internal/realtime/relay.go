package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"delivery-core/internal/common/database"
	"delivery-core/internal/common/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	relayChannel        = "realtime:emits"
	relayPublishTimeout = 2 * time.Second
)

type relayMessage struct {
	Origin    string          `json:"origin"`
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Rooms     []string        `json:"rooms"`
	Payload   json.RawMessage `json:"payload"`
}

// Relay carries room emissions between instances over Redis pub/sub so a
// broadcast reaches members connected to any instance. Delivery is best effort.
type Relay struct {
	redis    *database.RedisClient
	server   *Server
	instance string
	logger   logger.Logger
}

// NewRelay attaches a relay to every hub of server.
func NewRelay(server *Server, rdb *database.RedisClient, log logger.Logger) *Relay {
	r := &Relay{
		redis:    rdb,
		server:   server,
		instance: uuid.NewString(),
		logger:   log.WithFields(map[string]interface{}{"component": "relay"}),
	}
	for _, hub := range server.hubs {
		hub.setPublisher(r)
	}
	return r
}

func (r *Relay) Publish(namespace, event string, rooms []string, payload json.RawMessage) {
	msg, err := json.Marshal(relayMessage{
		Origin:    r.instance,
		Namespace: namespace,
		Event:     event,
		Rooms:     rooms,
		Payload:   payload,
	})
	if err != nil {
		r.logger.Error("failed to encode relay message", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.redis.Publish(ctx, relayChannel, msg); err != nil {
		r.logger.Warn("relay publish failed", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
	}
}

// Start subscribes and returns once the subscription is live. Messages are
// consumed until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.redis.Subscribe(ctx, relayChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}

	go r.consume(ctx, sub)
	r.logger.Info("relay started", map[string]interface{}{"instance": r.instance})
	return nil
}

func (r *Relay) consume(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			var msg relayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("dropping malformed relay message", map[string]interface{}{"error": err.Error()})
				continue
			}
			if msg.Origin == r.instance {
				continue
			}
			r.server.deliverRemote(msg.Namespace, msg.Event, msg.Rooms, msg.Payload)
		}
	}
}
