package domain

import (
	"encoding/json"
	"time"
)

// MessageType discriminates server-to-client messages.
type MessageType string

const (
	MessageConnected     MessageType = "connected"
	MessageSubscribed    MessageType = "subscribed"
	MessageUnsubscribed  MessageType = "unsubscribed"
	MessageError         MessageType = "error"
	MessagePong          MessageType = "pong"
	MessagePriceUpdate   MessageType = "price_update"
	MessageNewsUpdate    MessageType = "news_update"
	MessageBreakingNews  MessageType = "breaking_news"
	MessagePriceSnapshot MessageType = "price_snapshot"
	MessageSnapshot      MessageType = "snapshot"
	MessageNewsAlert     MessageType = "news_alert"
	MessagePriceAlert    MessageType = "price_alert"
	MessageMarketUpdate  MessageType = "market_update"
)

// PriceUpdate carries either a batch ([]Quote) or a single Quote.
type PriceUpdate struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type NewsUpdate struct {
	Type      MessageType `json:"type"`
	Data      []Article   `json:"data"`
	Count     int         `json:"count"`
	Timestamp time.Time   `json:"timestamp"`
}

type BreakingNews struct {
	Type      MessageType `json:"type"`
	Data      Article     `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type PriceSnapshotMessage struct {
	Type      MessageType      `json:"type"`
	Data      map[string]Quote `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// PersonalAlert is a news_alert or price_alert addressed to one identity.
type PersonalAlert struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// PriceAlertPayload is the data of a price_alert message.
type PriceAlertPayload struct {
	Alert PriceAlert `json:"alert"`
	Quote Quote      `json:"quote"`
}

type MarketUpdate struct {
	Type       MessageType     `json:"type"`
	UpdateType string          `json:"update_type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}
