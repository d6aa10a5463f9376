package broadcast

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// Sender is the outbound half of one live connection. Send must not block:
// it enqueues or fails.
type Sender interface {
	Send(msg []byte) error
}

// gracefulCloser is implemented by senders that can say goodbye before closing.
type gracefulCloser interface {
	CloseGraceful(reason string)
}

type connection struct {
	id            string
	identity      string
	authenticated bool
	sender        Sender
	connectedAt   time.Time
}

type identitySet map[string]struct{}

// Registry tracks live connections and the per-identity topic and symbol
// subscriptions that route deliveries to them.
//
// A single mutex serializes every mutation and every resolve-then-send, so a
// Deregister racing a Deliver never observes a half-removed connection.
// Sender.Send is a non-blocking enqueue, which keeps the critical section
// free of network waits.
type Registry struct {
	clock   clockwork.Clock
	metrics *metrics.StreamMetrics

	mu          sync.Mutex
	connections map[string]*connection
	byIdentity  map[string]map[string]*connection
	topics      map[domain.Topic]identitySet
	symbols     map[string]identitySet
}

func NewRegistry(clock clockwork.Clock, m *metrics.StreamMetrics) *Registry {
	return &Registry{
		clock:       clock,
		metrics:     m,
		connections: make(map[string]*connection),
		byIdentity:  make(map[string]map[string]*connection),
		topics:      make(map[domain.Topic]identitySet),
		symbols:     make(map[string]identitySet),
	}
}

// Register adds a connection under identity, or under the anonymous
// pseudo-identity when identity is empty, and returns its connection id.
// Authenticated identities are subscribed to the alerts topic.
func (r *Registry) Register(sender Sender, identity string) string {
	authenticated := identity != "" && identity != domain.AnonymousIdentity
	if !authenticated {
		identity = domain.AnonymousIdentity
	}

	conn := &connection{
		id:            uuid.NewString(),
		identity:      identity,
		authenticated: authenticated,
		sender:        sender,
		connectedAt:   r.clock.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.id] = conn
	conns, ok := r.byIdentity[identity]
	if !ok {
		conns = make(map[string]*connection)
		r.byIdentity[identity] = conns
	}
	conns[conn.id] = conn

	if authenticated {
		r.addTopicLocked(identity, domain.TopicAlerts)
	}

	r.metrics.ActiveConnections.WithLabelValues(authLabel(authenticated)).Inc()
	slog.Debug("Connection registered", "connection_id", conn.id, "identity", identity, "identity_connections", len(conns))
	return conn.id
}

// Deregister removes a connection. When it was the identity's last open
// connection, the identity is purged from every topic and symbol set.
// Unknown ids are ignored.
func (r *Registry) Deregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return
	}
	delete(r.connections, connectionID)
	r.metrics.ActiveConnections.WithLabelValues(authLabel(conn.authenticated)).Dec()

	conns := r.byIdentity[conn.identity]
	delete(conns, connectionID)
	if len(conns) > 0 {
		slog.Debug("Connection deregistered", "connection_id", connectionID, "identity", conn.identity, "remaining", len(conns))
		return
	}

	delete(r.byIdentity, conn.identity)
	r.purgeIdentityLocked(conn.identity)
	slog.Debug("Last connection for identity closed", "connection_id", connectionID, "identity", conn.identity)
}

// Subscribe adds identity to topic (when it is a known topic) and to each
// symbol. Repeating a subscription is a no-op. Identities without an open
// connection are ignored so no orphaned entry can be created.
func (r *Registry) Subscribe(identity string, topic domain.Topic, symbols []string) {
	identity = normalizeIdentity(identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, open := r.byIdentity[identity]; !open {
		return
	}

	if topic != "" {
		if known, ok := domain.ParseTopic(string(topic)); ok {
			r.addTopicLocked(identity, known)
		}
	}

	for _, sym := range domain.NormalizeSymbols(symbols) {
		set, ok := r.symbols[sym]
		if !ok {
			set = make(identitySet)
			r.symbols[sym] = set
		}
		set[identity] = struct{}{}
	}
}

// Unsubscribe removes identity from topic and from each symbol. An empty
// topic or nil symbols leave the respective index untouched.
func (r *Registry) Unsubscribe(identity string, topic domain.Topic, symbols []string) {
	identity = normalizeIdentity(identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	if topic != "" {
		if set, ok := r.topics[topic]; ok {
			delete(set, identity)
			if len(set) == 0 {
				delete(r.topics, topic)
			}
		}
	}

	for _, sym := range domain.NormalizeSymbols(symbols) {
		if set, ok := r.symbols[sym]; ok {
			delete(set, identity)
			if len(set) == 0 {
				delete(r.symbols, sym)
			}
		}
	}
}

// Deliver sends msg to every connection in scope and returns how many
// connections accepted it. A failing connection is logged and skipped.
func (r *Registry) Deliver(scope domain.Scope, msg []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	send := func(conn *connection) {
		if err := conn.sender.Send(msg); err != nil {
			r.metrics.DeliveryFailures.WithLabelValues(failureReason(err)).Inc()
			slog.Warn("Delivery failed", "connection_id", conn.id, "identity", conn.identity, "scope", scope.String(), "error", err)
			return
		}
		delivered++
	}

	switch scope.Kind {
	case domain.ScopeIdentity:
		for _, conn := range r.byIdentity[normalizeIdentity(scope.Identity)] {
			send(conn)
		}
	case domain.ScopeTopic:
		for identity := range r.topics[scope.Topic] {
			for _, conn := range r.byIdentity[identity] {
				send(conn)
			}
		}
	case domain.ScopeSymbol:
		for identity := range r.symbols[domain.NormalizeSymbol(scope.Symbol)] {
			for _, conn := range r.byIdentity[identity] {
				send(conn)
			}
		}
	case domain.ScopeAll:
		for _, conn := range r.connections {
			send(conn)
		}
	default:
		slog.Warn("Delivery with unknown scope dropped", "scope", scope.String())
		return 0
	}

	r.metrics.MessagesDelivered.Add(float64(delivered))
	return delivered
}

// CloseAll closes every registered connection, sending a close frame with
// reason where the sender supports it. Connections deregister themselves as
// their read loops exit.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	senders := make([]Sender, 0, len(r.connections))
	for _, conn := range r.connections {
		senders = append(senders, conn.sender)
	}
	r.mu.Unlock()

	for _, s := range senders {
		if c, ok := s.(gracefulCloser); ok {
			c.CloseGraceful(reason)
		}
	}
	slog.Info("Closed all streaming connections", "count", len(senders), "reason", reason)
}

// Stats is an observability snapshot of the registry.
type Stats struct {
	TotalConnections         int                  `json:"total_connections"`
	AuthenticatedConnections int                  `json:"authenticated_connections"`
	AnonymousConnections     int                  `json:"anonymous_connections"`
	UniqueIdentities         int                  `json:"unique_identities"`
	TopicSubscribers         map[domain.Topic]int `json:"topic_subscribers"`
	SymbolSubscriptions      int                  `json:"symbol_subscriptions"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalConnections: len(r.connections),
		TopicSubscribers: make(map[domain.Topic]int, len(domain.Topics())),
	}
	for _, conn := range r.connections {
		if conn.authenticated {
			s.AuthenticatedConnections++
		} else {
			s.AnonymousConnections++
		}
	}
	for identity := range r.byIdentity {
		if identity != domain.AnonymousIdentity {
			s.UniqueIdentities++
		}
	}
	for _, t := range domain.Topics() {
		s.TopicSubscribers[t] = len(r.topics[t])
	}
	s.SymbolSubscriptions = len(r.symbols)
	return s
}

// ConnectionInfo describes one live connection for operators. Topics and
// Symbols are derived from the owning identity's subscriptions.
type ConnectionInfo struct {
	ID            string         `json:"connection_id"`
	Identity      string         `json:"identity"`
	Authenticated bool           `json:"authenticated"`
	ConnectedAt   time.Time      `json:"connected_at"`
	Topics        []domain.Topic `json:"topics"`
	Symbols       []string       `json:"symbols"`
}

func (r *Registry) Connections() []ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(r.connections))
	for _, conn := range r.connections {
		info := ConnectionInfo{
			ID:            conn.id,
			Identity:      conn.identity,
			Authenticated: conn.authenticated,
			ConnectedAt:   conn.connectedAt,
			Topics:        []domain.Topic{},
			Symbols:       []string{},
		}
		for _, t := range domain.Topics() {
			if _, ok := r.topics[t][conn.identity]; ok {
				info.Topics = append(info.Topics, t)
			}
		}
		for sym, set := range r.symbols {
			if _, ok := set[conn.identity]; ok {
				info.Symbols = append(info.Symbols, sym)
			}
		}
		sort.Strings(info.Symbols)
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

func (r *Registry) addTopicLocked(identity string, topic domain.Topic) {
	set, ok := r.topics[topic]
	if !ok {
		set = make(identitySet)
		r.topics[topic] = set
	}
	set[identity] = struct{}{}
}

func (r *Registry) purgeIdentityLocked(identity string) {
	for topic, set := range r.topics {
		delete(set, identity)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
	for sym, set := range r.symbols {
		delete(set, identity)
		if len(set) == 0 {
			delete(r.symbols, sym)
		}
	}
}

func normalizeIdentity(identity string) string {
	if identity == "" {
		return domain.AnonymousIdentity
	}
	return identity
}

func authLabel(authenticated bool) string {
	if authenticated {
		return "authenticated"
	}
	return "anonymous"
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSendBufferFull):
		return "buffer_full"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	default:
		return "other"
	}
}
