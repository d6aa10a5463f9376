package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/correlation"
)

const maxFrameSize = 64 * 1024

// Registry is what the handler needs from the connection registry.
type Registry interface {
	Subscriptions
	Register(sender broadcast.Sender, identity string) string
	Deregister(connectionID string)
}

// HandlerConfig controls the handshake.
type HandlerConfig struct {
	AppURL         string
	Development    bool
	AllowedOrigins []string
}

// Handler upgrades /ws requests and runs one session per connection.
type Handler struct {
	registry  Registry
	snapshots domain.SnapshotReader
	verifier  domain.IdentityVerifier
	limits    *ConnectionLimits
	upgrader  websocket.Upgrader
	clock     clockwork.Clock
	metrics   *metrics.StreamMetrics
}

// NewHandler builds the handler. A nil verifier makes every connection
// anonymous; nil limits admit everything.
func NewHandler(
	registry Registry,
	snapshots domain.SnapshotReader,
	verifier domain.IdentityVerifier,
	limits *ConnectionLimits,
	clock clockwork.Clock,
	m *metrics.StreamMetrics,
	cfg HandlerConfig,
) *Handler {
	return &Handler{
		registry:  registry,
		snapshots: snapshots,
		verifier:  verifier,
		limits:    limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.Development, cfg.AllowedOrigins...),
		},
		clock:   clock,
		metrics: m,
	}
}

// Serve handles GET /ws. It blocks for the lifetime of the connection.
func (h *Handler) Serve(c echo.Context) error {
	r := c.Request()
	ip := c.RealIP()

	if h.limits != nil {
		ok, reason := h.limits.Acquire(ip)
		if !ok {
			h.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
			slog.WarnContext(r.Context(), "WebSocket connection rejected", "ip", ip, "reason", reason)
			status := http.StatusTooManyRequests
			if reason == LimitReasonGlobal {
				status = http.StatusServiceUnavailable
			}
			return echo.NewHTTPError(status, "connection limit reached")
		}
		defer h.limits.Release(ip)
	}

	identity := h.authenticate(r.Context(), bearerToken(r))

	conn, err := h.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.metrics.ConnectionsRejected.WithLabelValues("handshake").Inc()
		slog.DebugContext(r.Context(), "WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}
	conn.SetReadLimit(maxFrameSize)

	writer := broadcast.NewWriter(conn, h.clock, h.metrics)
	defer writer.Stop()

	connectionID := h.registry.Register(writer, identity)
	defer h.registry.Deregister(connectionID)

	ctx := correlation.WithID(r.Context(), connectionID)
	session := NewSession(connectionID, identity, h.registry, h.snapshots, writer, h.clock, h.metrics)
	slog.InfoContext(ctx, "WebSocket connected", "identity", session.Identity(), "ip", ip)
	session.Welcome(ctx)

	h.readLoop(ctx, conn, writer, session)
	slog.InfoContext(ctx, "WebSocket disconnected", "identity", session.Identity())
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, writer *broadcast.Writer, session *Session) {
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read failed", "error", err)
			}
			return
		}
		writer.ExtendReadDeadline()

		if kind != websocket.TextMessage {
			session.HandleBinaryFrame(ctx)
			continue
		}
		session.HandleFrame(ctx, frame)
	}
}

// authenticate resolves the token to an identity. Any failure downgrades
// the connection to anonymous rather than refusing it.
func (h *Handler) authenticate(ctx context.Context, token string) string {
	if token == "" || h.verifier == nil {
		return ""
	}
	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidToken) {
			slog.WarnContext(ctx, "Token verification failed", "error", err)
		} else {
			slog.DebugContext(ctx, "Invalid token, continuing anonymously", "error", err)
		}
		return ""
	}
	return identity
}

// bearerToken reads the token from the token query parameter, falling back
// to an Authorization: Bearer header. Browsers cannot set headers on a
// WebSocket handshake.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get(echo.HeaderAuthorization)
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
