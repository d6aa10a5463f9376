package domain

import "strings"

// Topic is a coarse-grained broadcast channel.
type Topic string

const (
	TopicPrices    Topic = "prices"
	TopicNews      Topic = "news"
	TopicAlerts    Topic = "alerts"
	TopicMarket    Topic = "market"
	TopicPortfolio Topic = "portfolio"
)

// AnonymousIdentity tracks unauthenticated subscribers collectively.
const AnonymousIdentity = "anonymous"

// Topics returns the fixed set of known topics.
func Topics() []Topic {
	return []Topic{TopicPrices, TopicNews, TopicAlerts, TopicMarket, TopicPortfolio}
}

// ParseTopic reports whether s names a known topic.
func ParseTopic(s string) (Topic, bool) {
	t := Topic(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TopicPrices, TopicNews, TopicAlerts, TopicMarket, TopicPortfolio:
		return t, true
	default:
		return "", false
	}
}

// AllowedForAnonymous reports whether unauthenticated connections may
// subscribe to the topic.
func (t Topic) AllowedForAnonymous() bool {
	return t == TopicPrices || t == TopicMarket
}

// NormalizeSymbol trims and upper-cases an instrument symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeSymbols normalizes each symbol, dropping blanks and duplicates
// while keeping the first-seen order.
func NormalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
