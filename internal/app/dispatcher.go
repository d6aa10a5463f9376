package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// Dispatcher maps each event kind to a message and a delivery scope.
// Events produced independently by every instance go to the local
// deliverer; events produced once for the whole cluster go through the
// cluster deliverer, which falls back to local when no relay is configured.
type Dispatcher struct {
	local   domain.Deliverer
	cluster domain.Deliverer
	clock   clockwork.Clock
}

func NewDispatcher(local, cluster domain.Deliverer, clock clockwork.Clock) *Dispatcher {
	if cluster == nil {
		cluster = local
	}
	return &Dispatcher{local: local, cluster: cluster, clock: clock}
}

// PricesChanged sends the change set to the prices topic as one batch and
// each quote individually to its symbol subscribers.
func (d *Dispatcher) PricesChanged(ctx context.Context, quotes []domain.Quote) int {
	if len(quotes) == 0 {
		return 0
	}
	now := d.now()

	delivered := d.send(ctx, d.local, domain.ToTopic(domain.TopicPrices), domain.PriceUpdate{
		Type:      domain.MessagePriceUpdate,
		Data:      quotes,
		Timestamp: now,
	})
	for _, q := range quotes {
		delivered += d.send(ctx, d.local, domain.ToSymbol(q.Symbol), domain.PriceUpdate{
			Type:      domain.MessagePriceUpdate,
			Data:      q,
			Timestamp: now,
		})
	}
	return delivered
}

// NewsPublished sends a batch of net-new articles to the news topic.
func (d *Dispatcher) NewsPublished(ctx context.Context, articles []domain.Article) int {
	if len(articles) == 0 {
		return 0
	}
	return d.send(ctx, d.local, domain.ToTopic(domain.TopicNews), domain.NewsUpdate{
		Type:      domain.MessageNewsUpdate,
		Data:      articles,
		Count:     len(articles),
		Timestamp: d.now(),
	})
}

// BreakingNews sends a single high-impact article to every connection.
func (d *Dispatcher) BreakingNews(ctx context.Context, article domain.Article) int {
	return d.send(ctx, d.local, domain.ToAll(), domain.BreakingNews{
		Type:      domain.MessageBreakingNews,
		Data:      article,
		Timestamp: d.now(),
	})
}

func (d *Dispatcher) NewsAlert(ctx context.Context, identity string, article domain.Article, reason string) int {
	return d.send(ctx, d.local, domain.ToIdentity(identity), domain.PersonalAlert{
		Type:      domain.MessageNewsAlert,
		Data:      article,
		Reason:    reason,
		Timestamp: d.now(),
	})
}

// PriceAlert goes through the cluster path: the alert was claimed by this
// instance only, but the owner may be connected anywhere.
func (d *Dispatcher) PriceAlert(ctx context.Context, alert domain.PriceAlert, quote domain.Quote, reason string) int {
	return d.send(ctx, d.cluster, domain.ToIdentity(alert.Identity), domain.PersonalAlert{
		Type:      domain.MessagePriceAlert,
		Data:      domain.PriceAlertPayload{Alert: alert, Quote: quote},
		Reason:    reason,
		Timestamp: d.now(),
	})
}

func (d *Dispatcher) MarketUpdate(ctx context.Context, updateType string, data json.RawMessage) (int, error) {
	if !json.Valid(data) {
		return 0, fmt.Errorf("market update %q: data is not valid JSON", updateType)
	}
	msg, err := json.Marshal(domain.MarketUpdate{
		Type:       domain.MessageMarketUpdate,
		UpdateType: updateType,
		Data:       data,
		Timestamp:  d.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal market update: %w", err)
	}
	return d.cluster.Deliver(domain.ToTopic(domain.TopicMarket), msg), nil
}

// send serializes msg once and hands it to the deliverer.
func (d *Dispatcher) send(ctx context.Context, to domain.Deliverer, scope domain.Scope, msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal outbound message", "scope", scope.String(), "error", err)
		return 0
	}
	return to.Deliver(scope, data)
}

func (d *Dispatcher) now() time.Time {
	return d.clock.Now().UTC()
}
