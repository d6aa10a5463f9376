package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// Subscriptions is the part of the registry a session mutates.
type Subscriptions interface {
	Subscribe(identity string, topic domain.Topic, symbols []string)
	Unsubscribe(identity string, topic domain.Topic, symbols []string)
}

// Session interprets client frames for one open connection. Replies go
// through the connection's own sender so they stay ordered with broadcasts.
// Bad input is answered with an error message and never closes the
// connection.
type Session struct {
	connectionID  string
	identity      string
	authenticated bool

	subscriptions Subscriptions
	snapshots     domain.SnapshotReader
	out           broadcast.Sender
	clock         clockwork.Clock
	metrics       *metrics.StreamMetrics
}

// NewSession creates a session. An empty identity means anonymous.
func NewSession(
	connectionID string,
	identity string,
	subscriptions Subscriptions,
	snapshots domain.SnapshotReader,
	out broadcast.Sender,
	clock clockwork.Clock,
	m *metrics.StreamMetrics,
) *Session {
	authenticated := identity != "" && identity != domain.AnonymousIdentity
	if !authenticated {
		identity = domain.AnonymousIdentity
	}
	return &Session{
		connectionID:  connectionID,
		identity:      identity,
		authenticated: authenticated,
		subscriptions: subscriptions,
		snapshots:     snapshots,
		out:           out,
		clock:         clock,
		metrics:       m,
	}
}

func (s *Session) Identity() string    { return s.identity }
func (s *Session) Authenticated() bool { return s.authenticated }

// Welcome sends the connected acknowledgment.
func (s *Session) Welcome(ctx context.Context) {
	s.reply(ctx, connectedMessage{
		Type:          domain.MessageConnected,
		ConnectionID:  s.connectionID,
		Authenticated: s.authenticated,
		Timestamp:     s.now(),
	})
}

// HandleFrame processes one text frame.
func (s *Session) HandleFrame(ctx context.Context, frame []byte) {
	var msg clientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.fail(ctx, errKindInvalidJSON, "invalid JSON message")
		return
	}

	switch msg.Action {
	case "":
		s.fail(ctx, errKindMissingAction, "missing action")
	case actionSubscribe:
		s.subscribe(ctx, msg)
	case actionUnsubscribe:
		s.unsubscribe(ctx, msg)
	case actionPing:
		s.pong(ctx, msg)
	case actionGetSnapshot:
		s.snapshot(ctx, domain.MessagePriceSnapshot, domain.NormalizeSymbols(msg.Symbols))
	default:
		s.fail(ctx, errKindUnknownAction, fmt.Sprintf("unknown action: %s", msg.Action))
	}
}

// HandleBinaryFrame rejects a non-text frame.
func (s *Session) HandleBinaryFrame(ctx context.Context) {
	s.fail(ctx, errKindBinaryFrame, "binary frames are not supported")
}

func (s *Session) subscribe(ctx context.Context, msg clientMessage) {
	topic, symbols, ok := s.parseTarget(ctx, msg)
	if !ok {
		return
	}

	if topic != "" && !s.authenticated && !topic.AllowedForAnonymous() {
		s.fail(ctx, errKindForbiddenTopic, fmt.Sprintf("authentication required for topic: %s", topic))
		return
	}

	s.subscriptions.Subscribe(s.identity, topic, symbols)
	slog.DebugContext(ctx, "Subscribed", "identity", s.identity, "topic", topic, "symbols", symbols)

	s.reply(ctx, subscriptionAck{
		Type:      domain.MessageSubscribed,
		Topic:     topic,
		Symbols:   nonNil(symbols),
		Timestamp: s.now(),
	})

	if topic == domain.TopicPrices {
		s.snapshot(ctx, domain.MessageSnapshot, symbols)
	}
}

func (s *Session) unsubscribe(ctx context.Context, msg clientMessage) {
	topic, symbols, ok := s.parseTarget(ctx, msg)
	if !ok {
		return
	}

	s.subscriptions.Unsubscribe(s.identity, topic, symbols)
	slog.DebugContext(ctx, "Unsubscribed", "identity", s.identity, "topic", topic, "symbols", symbols)

	s.reply(ctx, subscriptionAck{
		Type:      domain.MessageUnsubscribed,
		Topic:     topic,
		Symbols:   nonNil(symbols),
		Timestamp: s.now(),
	})
}

// parseTarget validates the topic and symbols of a (un)subscribe frame.
// At least one of them must be present.
func (s *Session) parseTarget(ctx context.Context, msg clientMessage) (domain.Topic, []string, bool) {
	symbols := domain.NormalizeSymbols(msg.Symbols)

	var topic domain.Topic
	if msg.Topic != "" {
		parsed, ok := domain.ParseTopic(msg.Topic)
		if !ok {
			s.fail(ctx, errKindUnknownTopic, fmt.Sprintf("unknown topic: %s", msg.Topic))
			return "", nil, false
		}
		topic = parsed
	}

	if topic == "" && len(symbols) == 0 {
		s.fail(ctx, errKindEmptyRequest, "topic or symbols required")
		return "", nil, false
	}
	return topic, symbols, true
}

func (s *Session) pong(ctx context.Context, msg clientMessage) {
	ts := msg.Timestamp
	if len(ts) == 0 {
		ts, _ = json.Marshal(s.now())
	}
	s.reply(ctx, pongMessage{Type: domain.MessagePong, Timestamp: ts})
}

func (s *Session) snapshot(ctx context.Context, kind domain.MessageType, symbols []string) {
	var data map[string]domain.Quote
	if s.snapshots != nil {
		data = s.snapshots.Snapshot().Select(symbols)
	}
	if data == nil {
		data = map[string]domain.Quote{}
	}
	s.reply(ctx, domain.PriceSnapshotMessage{
		Type:      kind,
		Data:      data,
		Timestamp: s.now(),
	})
}

func (s *Session) fail(ctx context.Context, kind, message string) {
	s.metrics.ProtocolErrors.WithLabelValues(kind).Inc()
	slog.DebugContext(ctx, "Protocol error", "kind", kind, "message", message)
	s.reply(ctx, errorMessage{Type: domain.MessageError, Message: message, Timestamp: s.now()})
}

func (s *Session) reply(ctx context.Context, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal reply", "error", err)
		return
	}
	if err := s.out.Send(data); err != nil {
		slog.DebugContext(ctx, "Reply not delivered", "error", err)
	}
}

func (s *Session) now() time.Time {
	return s.clock.Now().UTC()
}

func nonNil(symbols []string) []string {
	if symbols == nil {
		return []string{}
	}
	return symbols
}
