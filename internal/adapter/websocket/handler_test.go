package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(_ context.Context, token string) (string, error) {
	if identity, ok := v[token]; ok {
		return identity, nil
	}
	return "", fmt.Errorf("verify: %w", domain.ErrInvalidToken)
}

type handlerFixture struct {
	registry *broadcast.Registry
	url      string
}

func newHandlerFixture(t *testing.T, limits *ConnectionLimits) *handlerFixture {
	t.Helper()
	clock := clockwork.NewRealClock()
	m := metrics.NewStreamMetrics(prometheus.NewRegistry())
	registry := broadcast.NewRegistry(clock, m)
	snapshot := staticSnapshot{
		"KSE100": {Symbol: "KSE100", Kind: domain.KindIndex, Price: decimal.RequireFromString("78000.25")},
	}

	h := NewHandler(registry, snapshot, tokenVerifier{"good": "user-42"}, limits, clock, m,
		HandlerConfig{AppURL: "https://app.marketpulse.pk"})

	e := echo.New()
	e.GET("/ws", h.Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &handlerFixture{
		registry: registry,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (f *handlerFixture) dial(t *testing.T, query string, header http.Header) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(f.url+query, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_AnonymousSession(t *testing.T) {
	f := newHandlerFixture(t, nil)
	conn := f.dial(t, "", nil)

	welcome := readJSON(t, conn)
	assert.Equal(t, "connected", welcome["type"])
	assert.Equal(t, false, welcome["authenticated"])

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"action":"subscribe","topic":"portfolio"}`)))
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"action":"ping","timestamp":"t1"}`)))
	msg = readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "t1", msg["timestamp"], "connection survives a rejected subscribe")
}

func TestHandler_AuthenticatedViaQueryToken(t *testing.T) {
	f := newHandlerFixture(t, nil)
	conn := f.dial(t, "?token=good", nil)

	welcome := readJSON(t, conn)
	assert.Equal(t, true, welcome["authenticated"])

	n := f.registry.Deliver(domain.ToIdentity("user-42"), []byte(`{"type":"price_alert"}`))
	assert.Equal(t, 1, n)
	assert.Equal(t, "price_alert", readJSON(t, conn)["type"])
}

func TestHandler_AuthenticatedViaBearerHeader(t *testing.T) {
	f := newHandlerFixture(t, nil)
	conn := f.dial(t, "", http.Header{"Authorization": []string{"Bearer good"}})

	assert.Equal(t, true, readJSON(t, conn)["authenticated"])
}

func TestHandler_InvalidTokenFallsBackToAnonymous(t *testing.T) {
	f := newHandlerFixture(t, nil)
	conn := f.dial(t, "?token=forged", nil)

	assert.Equal(t, false, readJSON(t, conn)["authenticated"])
}

func TestHandler_SubscribeReceivesBroadcast(t *testing.T) {
	f := newHandlerFixture(t, nil)
	conn := f.dial(t, "", nil)
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"action":"subscribe","topic":"prices"}`)))
	assert.Equal(t, "subscribed", readJSON(t, conn)["type"])
	snapshot := readJSON(t, conn)
	assert.Equal(t, "snapshot", snapshot["type"])
	assert.Contains(t, snapshot["data"], "KSE100")

	f.registry.Deliver(domain.ToTopic(domain.TopicPrices), []byte(`{"type":"price_update"}`))
	assert.Equal(t, "price_update", readJSON(t, conn)["type"])
}

func TestHandler_DisconnectDeregisters(t *testing.T) {
	f := newHandlerFixture(t, nil)
	conn := f.dial(t, "?token=good", nil)
	readJSON(t, conn)
	require.Equal(t, 1, f.registry.Stats().TotalConnections)

	require.NoError(t, conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return f.registry.Stats().TotalConnections == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.registry.Stats().TopicSubscribers[domain.TopicAlerts])
}

func TestHandler_RejectsOverLimitBeforeUpgrade(t *testing.T) {
	limits := NewConnectionLimits(generousLimits(1, 10), clockwork.NewRealClock())
	f := newHandlerFixture(t, limits)
	conn := f.dial(t, "", nil)
	readJSON(t, conn)

	_, resp, err := ws.DefaultDialer.Dial(f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	conn.Close()
	assert.Eventually(t, func() bool { return limits.Current() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	f := newHandlerFixture(t, nil)

	_, resp, err := ws.DefaultDialer.Dial(f.url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, f.registry.Stats().TotalConnections)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "abc", bearerToken(r), "query parameter wins")

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", bearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, bearerToken(r))
}
