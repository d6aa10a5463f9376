package domain

import "fmt"

// ScopeKind selects which connections a delivery reaches.
type ScopeKind string

const (
	ScopeIdentity ScopeKind = "identity"
	ScopeTopic    ScopeKind = "topic"
	ScopeSymbol   ScopeKind = "symbol"
	ScopeAll      ScopeKind = "all"
)

// Scope is a tagged delivery target. Only the field matching Kind is set.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	Identity string    `json:"identity,omitempty"`
	Topic    Topic     `json:"topic,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
}

func ToIdentity(identity string) Scope { return Scope{Kind: ScopeIdentity, Identity: identity} }
func ToTopic(topic Topic) Scope        { return Scope{Kind: ScopeTopic, Topic: topic} }
func ToSymbol(symbol string) Scope     { return Scope{Kind: ScopeSymbol, Symbol: NormalizeSymbol(symbol)} }
func ToAll() Scope                     { return Scope{Kind: ScopeAll} }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeIdentity:
		return "identity:" + s.Identity
	case ScopeTopic:
		return "topic:" + string(s.Topic)
	case ScopeSymbol:
		return "symbol:" + s.Symbol
	case ScopeAll:
		return "all"
	default:
		return fmt.Sprintf("unknown(%s)", s.Kind)
	}
}

// Deliverer pushes an already serialized message to every connection in scope.
type Deliverer interface {
	Deliver(scope Scope, msg []byte) int
}
