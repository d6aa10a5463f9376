package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *captureSender) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, raw := range c.msgs {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (c *captureSender) last(t *testing.T) map[string]any {
	t.Helper()
	all := c.decoded(t)
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

type staticSnapshot domain.PriceSnapshot

func (s staticSnapshot) Snapshot() domain.PriceSnapshot { return domain.PriceSnapshot(s) }

type sessionFixture struct {
	registry *broadcast.Registry
	metrics  *metrics.StreamMetrics
	out      *captureSender
	session  *Session
}

func newSessionFixture(t *testing.T, identity string) *sessionFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	m := metrics.NewStreamMetrics(prometheus.NewRegistry())
	registry := broadcast.NewRegistry(clock, m)
	out := &captureSender{}
	id := registry.Register(out, identity)

	snapshot := staticSnapshot{
		"OGDC": {Symbol: "OGDC", Kind: domain.KindStock, Price: decimal.RequireFromString("121.50")},
		"PPL":  {Symbol: "PPL", Kind: domain.KindStock, Price: decimal.RequireFromString("98.10")},
	}
	return &sessionFixture{
		registry: registry,
		metrics:  m,
		out:      out,
		session:  NewSession(id, identity, registry, snapshot, out, clock, m),
	}
}

func (f *sessionFixture) send(t *testing.T, frame string) map[string]any {
	t.Helper()
	f.session.HandleFrame(context.Background(), []byte(frame))
	return f.out.last(t)
}

func TestSession_Welcome(t *testing.T) {
	f := newSessionFixture(t, "user-1")
	f.session.Welcome(context.Background())

	msg := f.out.last(t)
	assert.Equal(t, "connected", msg["type"])
	assert.Equal(t, true, msg["authenticated"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestSession_AnonymousWelcome(t *testing.T) {
	f := newSessionFixture(t, "")
	f.session.Welcome(context.Background())

	assert.Equal(t, false, f.out.last(t)["authenticated"])
	assert.Equal(t, domain.AnonymousIdentity, f.session.Identity())
}

func TestSession_SubscribePricesSendsAckThenSnapshot(t *testing.T) {
	f := newSessionFixture(t, "")

	f.session.HandleFrame(context.Background(), []byte(`{"action":"subscribe","topic":"prices","symbols":["ogdc"]}`))

	msgs := f.out.decoded(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "subscribed", msgs[0]["type"])
	assert.Equal(t, "prices", msgs[0]["topic"])
	assert.Equal(t, []any{"OGDC"}, msgs[0]["symbols"])

	assert.Equal(t, "snapshot", msgs[1]["type"])
	data := msgs[1]["data"].(map[string]any)
	assert.Contains(t, data, "OGDC")
	assert.NotContains(t, data, "PPL")

	stats := f.registry.Stats()
	assert.Equal(t, 1, stats.TopicSubscribers[domain.TopicPrices])
}

func TestSession_AnonymousForbiddenTopics(t *testing.T) {
	for _, topic := range []string{"news", "alerts", "portfolio"} {
		t.Run(topic, func(t *testing.T) {
			f := newSessionFixture(t, "")

			msg := f.send(t, `{"action":"subscribe","topic":"`+topic+`"}`)

			assert.Equal(t, "error", msg["type"])
			assert.Contains(t, msg["message"], "authentication required")
			assert.Zero(t, f.registry.Stats().TopicSubscribers[domain.Topic(topic)])
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProtocolErrors.WithLabelValues(errKindForbiddenTopic)))
		})
	}
}

func TestSession_AuthenticatedMaySubscribeNews(t *testing.T) {
	f := newSessionFixture(t, "user-1")

	msg := f.send(t, `{"action":"subscribe","topic":"news"}`)

	assert.Equal(t, "subscribed", msg["type"])
	assert.Equal(t, 1, f.registry.Stats().TopicSubscribers[domain.TopicNews])
}

func TestSession_SymbolOnlySubscription(t *testing.T) {
	f := newSessionFixture(t, "user-1")

	msg := f.send(t, `{"action":"subscribe","symbols":[" hbl ","HBL"]}`)

	assert.Equal(t, "subscribed", msg["type"])
	assert.Equal(t, []any{"HBL"}, msg["symbols"])
	assert.Len(t, f.out.decoded(t), 1, "no snapshot without the prices topic")
	assert.Equal(t, 1, f.registry.Deliver(domain.ToSymbol("HBL"), []byte(`{}`)))
}

func TestSession_Unsubscribe(t *testing.T) {
	f := newSessionFixture(t, "user-1")
	f.send(t, `{"action":"subscribe","topic":"market"}`)

	msg := f.send(t, `{"action":"unsubscribe","topic":"market"}`)

	assert.Equal(t, "unsubscribed", msg["type"])
	assert.Equal(t, "market", msg["topic"])
	assert.Zero(t, f.registry.Stats().TopicSubscribers[domain.TopicMarket])
}

func TestSession_PingEchoesTimestampVerbatim(t *testing.T) {
	f := newSessionFixture(t, "")

	msg := f.send(t, `{"action":"ping","timestamp":"t1"}`)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "t1", msg["timestamp"])

	msg = f.send(t, `{"action":"ping","timestamp":1700000000123}`)
	assert.Equal(t, 1700000000123.0, msg["timestamp"])
}

func TestSession_PingWithoutTimestampUsesServerTime(t *testing.T) {
	f := newSessionFixture(t, "")

	msg := f.send(t, `{"action":"ping"}`)

	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "2026-03-02T10:00:00Z", msg["timestamp"])
}

func TestSession_GetSnapshot(t *testing.T) {
	f := newSessionFixture(t, "")

	msg := f.send(t, `{"action":"get_snapshot","symbols":["PPL","MISSING"]}`)

	assert.Equal(t, "price_snapshot", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Len(t, data, 1)
	assert.Contains(t, data, "PPL")

	msg = f.send(t, `{"action":"get_snapshot"}`)
	assert.Len(t, msg["data"].(map[string]any), 2, "no symbols means the whole snapshot")
}

func TestSession_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  string
	}{
		{"invalid json", `{not json`, errKindInvalidJSON},
		{"missing action", `{"topic":"prices"}`, errKindMissingAction},
		{"unknown action", `{"action":"dance"}`, errKindUnknownAction},
		{"unknown topic", `{"action":"subscribe","topic":"crypto"}`, errKindUnknownTopic},
		{"empty subscribe", `{"action":"subscribe"}`, errKindEmptyRequest},
		{"empty unsubscribe", `{"action":"unsubscribe","symbols":[" "]}`, errKindEmptyRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, "user-1")

			msg := f.send(t, tt.frame)

			assert.Equal(t, "error", msg["type"])
			assert.NotEmpty(t, msg["message"])
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProtocolErrors.WithLabelValues(tt.kind)))
		})
	}
}

func TestSession_ErrorsDoNotAffectLaterFrames(t *testing.T) {
	f := newSessionFixture(t, "")
	f.send(t, `garbage`)

	msg := f.send(t, `{"action":"subscribe","topic":"market"}`)

	assert.Equal(t, "subscribed", msg["type"])
}
