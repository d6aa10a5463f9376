package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// RelayChannel is the Pub/Sub channel every instance listens on.
const RelayChannel = "marketpulse:relay"

const publishTimeout = 2 * time.Second

// envelope is one relayed delivery. Payload is the already serialized
// client message and is forwarded untouched.
type envelope struct {
	Origin  string          `json:"origin"`
	Scope   domain.Scope    `json:"scope"`
	Payload json.RawMessage `json:"payload"`
}

// Relay implements domain.Deliverer across instances. A delivery reaches
// the local registry directly and every other instance through Redis
// Pub/Sub; instances ignore their own envelopes.
type Relay struct {
	client  *goredis.Client
	local   domain.Deliverer
	origin  string
	channel string
	metrics *metrics.RedisMetrics
}

func NewRelay(client *goredis.Client, local domain.Deliverer, instanceID string, m *metrics.RedisMetrics) *Relay {
	return &Relay{
		client:  client,
		local:   local,
		origin:  instanceID,
		channel: RelayChannel,
		metrics: m,
	}
}

// Deliver sends msg to local connections in scope and publishes it for
// the other instances. It returns the local delivery count. A publish
// failure is logged and counted; local delivery is unaffected.
func (r *Relay) Deliver(scope domain.Scope, msg []byte) int {
	n := r.local.Deliver(scope, msg)

	data, err := json.Marshal(envelope{Origin: r.origin, Scope: scope, Payload: msg})
	if err != nil {
		r.metrics.RelayMessages.WithLabelValues("out", "invalid").Inc()
		slog.Error("Failed to encode relay envelope", "scope", scope.String(), "error", err)
		return n
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.metrics.RelayMessages.WithLabelValues("out", "error").Inc()
		slog.Warn("Relay publish failed, delivered locally only", "scope", scope.String(), "error", err)
		return n
	}
	r.metrics.RelayMessages.WithLabelValues("out", "ok").Inc()
	return n
}

// Run subscribes to the relay channel and delivers envelopes from other
// instances to the local registry. It blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to subscribe to relay channel: %w", err)
	}
	slog.Info("Relay subscribed", "channel", r.channel, "instance_id", r.origin)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.metrics.RelayMessages.WithLabelValues("in", "invalid").Inc()
		slog.Warn("Dropping malformed relay envelope", "error", err)
		return
	}
	if env.Origin == r.origin {
		r.metrics.RelayMessages.WithLabelValues("in", "self").Inc()
		return
	}

	n := r.local.Deliver(env.Scope, env.Payload)
	r.metrics.RelayMessages.WithLabelValues("in", "ok").Inc()
	slog.Debug("Relayed delivery", "origin", env.Origin, "scope", env.Scope.String(), "delivered", n)
}
