package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroadcaster extends the local hub across instances: every publish also
// goes to a Redis channel, and messages published by other instances are
// replayed into the local hub. Messages carry the publishing instance's ID so
// an instance never re-delivers its own traffic.
type RedisBroadcaster struct {
	hub        *Hub
	rdb        *redis.Client
	instanceID string
	log        *zap.Logger
}

type wireEnvelope struct {
	InstanceID string          `json:"instanceId"`
	DiagramID  string          `json:"diagramId"`
	Topic      string          `json:"topic"`
	Except     string          `json:"except,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func redisChannel(diagramID string) string {
	return "diagram:" + diagramID
}

func NewRedisBroadcaster(hub *Hub, rdb *redis.Client, instanceID string, log *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{hub: hub, rdb: rdb, instanceID: instanceID, log: log}
}

func (b *RedisBroadcaster) Publish(diagramID, topic string, data any) {
	b.PublishExcept(diagramID, topic, "", data)
}

func (b *RedisBroadcaster) PublishExcept(diagramID, topic, exceptConnID string, data any) {
	b.hub.PublishExcept(diagramID, topic, exceptConnID, data)

	raw, err := json.Marshal(data)
	if err != nil {
		b.log.Error("marshal broadcast payload", zap.Error(err), zap.String("topic", topic))
		return
	}
	env := wireEnvelope{
		InstanceID: b.instanceID,
		DiagramID:  diagramID,
		Topic:      topic,
		Except:     exceptConnID,
		Data:       raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		b.log.Error("marshal broadcast envelope", zap.Error(err))
		return
	}
	if err := b.rdb.Publish(context.Background(), redisChannel(diagramID), body).Err(); err != nil {
		// Cross-instance fan-out is best effort; local delivery already happened.
		b.log.Warn("redis publish failed", zap.Error(err), zap.String("diagram_id", diagramID))
	}
}

// Run subscribes to all diagram channels and replays remote messages into the
// local hub until ctx is cancelled.
func (b *RedisBroadcaster) Run(ctx context.Context) {
	pubsub := b.rdb.PSubscribe(ctx, "diagram:*")
	defer pubsub.Close()

	b.log.Info("redis broadcast relay started", zap.String("instance_id", b.instanceID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handlePayload([]byte(msg.Payload))
		}
	}
}

// handlePayload replays one relayed envelope into the local hub. Envelopes
// tagged with this instance's ID were already delivered locally at publish
// time and are discarded.
func (b *RedisBroadcaster) handlePayload(payload []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Warn("bad relay envelope", zap.Error(err))
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	b.hub.PublishExcept(env.DiagramID, env.Topic, env.Except, env.Data)
}
