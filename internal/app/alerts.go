package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// AlertEvaluator checks user price alerts against each change set. An alert
// is claimed in the repository before it is sent, so with several instances
// polling the same prices each alert still fires exactly once.
type AlertEvaluator struct {
	repo       domain.AlertRepository
	dispatcher *Dispatcher
	clock      clockwork.Clock
	metrics    *metrics.PollerMetrics
}

func NewAlertEvaluator(repo domain.AlertRepository, dispatcher *Dispatcher, clock clockwork.Clock, m *metrics.PollerMetrics) *AlertEvaluator {
	return &AlertEvaluator{repo: repo, dispatcher: dispatcher, clock: clock, metrics: m}
}

// Evaluate returns the number of alerts that fired.
func (e *AlertEvaluator) Evaluate(ctx context.Context, changed []domain.Quote) int {
	if len(changed) == 0 {
		return 0
	}

	bySymbol := make(map[string]domain.Quote, len(changed))
	symbols := make([]string, 0, len(changed))
	for _, q := range changed {
		bySymbol[q.Symbol] = q
		symbols = append(symbols, q.Symbol)
	}

	alerts, err := e.repo.ActiveAlertsFor(ctx, symbols)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load price alerts", "symbols", len(symbols), "error", err)
		return 0
	}

	fired := 0
	for _, alert := range alerts {
		quote, ok := bySymbol[domain.NormalizeSymbol(alert.Symbol)]
		if !ok || !alert.Matches(quote.Price) {
			continue
		}

		err := e.repo.MarkTriggered(ctx, alert.ID, e.clock.Now().UTC())
		if errors.Is(err, domain.ErrAlertAlreadyFired) {
			slog.DebugContext(ctx, "Price alert claimed elsewhere", "alert_id", alert.ID)
			continue
		}
		if err != nil {
			slog.WarnContext(ctx, "Failed to claim price alert", "alert_id", alert.ID, "error", err)
			continue
		}

		e.dispatcher.PriceAlert(ctx, alert, quote, alertReason(alert, quote))
		e.metrics.AlertsTriggered.Inc()
		fired++
	}
	return fired
}

func alertReason(a domain.PriceAlert, q domain.Quote) string {
	verb := "rose above"
	if a.Condition == domain.AlertBelow {
		verb = "fell below"
	}
	return fmt.Sprintf("%s %s %s (now %s)", q.Symbol, verb, a.TargetPrice.StringFixed(2), q.Price.StringFixed(2))
}
