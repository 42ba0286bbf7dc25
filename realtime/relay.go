package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const relayRetryDelay = time.Second

// Broadcaster delivers an encoded frame to every member of a room.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, msg []byte) int
}

type relayEnvelope struct {
	Origin string                 `json:"origin"`
	Room   string                 `json:"room"`
	Frame  sonic.NoCopyRawMessage `json:"frame"`
}

// Relay fans room broadcasts out to other instances over a Redis channel.
// Local members are served directly; frames published by this instance are
// ignored when they come back.
type Relay struct {
	hub     *Hub
	rc      *redis.Client
	channel string
	origin  string
	log     *log.Logger
}

func NewRelay(hub *Hub, rc *redis.Client, channel string, logger *log.Logger) *Relay {
	return &Relay{hub: hub, rc: rc, channel: channel, origin: uuid.NewString(), log: logger}
}

// Broadcast delivers locally and publishes for the other instances. A publish
// failure is logged; local members still receive the frame.
func (r *Relay) Broadcast(ctx context.Context, room string, msg []byte) int {
	n := r.hub.Deliver(room, msg)
	payload, err := sonic.Marshal(relayEnvelope{Origin: r.origin, Room: room, Frame: msg})
	if err != nil {
		r.log.WithError(err).Error("encode relay envelope")
		return n
	}
	if err := r.rc.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.WithError(err).WithField("room", room).Warn("relay publish failed")
	}
	return n
}

// Run subscribes to the relay channel until ctx is cancelled, resubscribing
// when the subscription drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		r.log.Error("relay subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRetryDelay):
		}
	}
}

func (r *Relay) consume(ctx context.Context) {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *Relay) deliver(payload string) {
	var env relayEnvelope
	if err := sonic.UnmarshalString(payload, &env); err != nil {
		r.log.WithError(err).Warn("unable to parse relay envelope")
		return
	}
	if env.Origin == r.origin || env.Room == "" {
		return
	}
	r.hub.Deliver(env.Room, []byte(env.Frame))
}
