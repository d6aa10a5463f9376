package websocket

import (
	"encoding/json"
	"time"

	"github.com/pscheid92/marketpulse/internal/domain"
)

// Client actions.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
	actionGetSnapshot = "get_snapshot"
)

// clientMessage is the union of every client frame; Action selects which
// fields are meaningful.
type clientMessage struct {
	Action    string          `json:"action"`
	Topic     string          `json:"topic,omitempty"`
	Symbols   []string        `json:"symbols,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type connectedMessage struct {
	Type          domain.MessageType `json:"type"`
	ConnectionID  string             `json:"connection_id"`
	Authenticated bool               `json:"authenticated"`
	Timestamp     time.Time          `json:"timestamp"`
}

type subscriptionAck struct {
	Type      domain.MessageType `json:"type"`
	Topic     domain.Topic       `json:"topic,omitempty"`
	Symbols   []string           `json:"symbols"`
	Timestamp time.Time          `json:"timestamp"`
}

type errorMessage struct {
	Type      domain.MessageType `json:"type"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

// pongMessage echoes the client's timestamp byte for byte.
type pongMessage struct {
	Type      domain.MessageType `json:"type"`
	Timestamp json.RawMessage    `json:"timestamp"`
}

// Protocol error kinds, used as metric labels.
const (
	errKindInvalidJSON    = "invalid_json"
	errKindMissingAction  = "missing_action"
	errKindUnknownAction  = "unknown_action"
	errKindUnknownTopic   = "unknown_topic"
	errKindForbiddenTopic = "forbidden_topic"
	errKindEmptyRequest   = "empty_subscription"
	errKindBinaryFrame    = "binary_frame"
)
