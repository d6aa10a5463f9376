package app

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

const pricePollerName = "price"

// PricePoller periodically fetches the full price table, emits the
// instruments whose price moved and keeps the latest snapshot for new
// subscribers.
type PricePoller struct {
	source     domain.PriceSource
	dispatcher *Dispatcher
	alerts     *AlertEvaluator
	clock      clockwork.Clock
	metrics    *metrics.PollerMetrics
	loop       *pollLoop

	mu       sync.RWMutex
	snapshot domain.PriceSnapshot

	// lastDuplicates is only touched from the poll goroutine.
	lastDuplicates string
}

// NewPricePoller creates a stopped poller. alerts may be nil.
func NewPricePoller(
	source domain.PriceSource,
	dispatcher *Dispatcher,
	alerts *AlertEvaluator,
	clock clockwork.Clock,
	interval time.Duration,
	m *metrics.PollerMetrics,
) *PricePoller {
	p := &PricePoller{
		source:     source,
		dispatcher: dispatcher,
		alerts:     alerts,
		clock:      clock,
		metrics:    m,
		snapshot:   domain.PriceSnapshot{},
	}
	p.loop = newPollLoop(pricePollerName, interval, clock, p.poll)
	return p
}

func (p *PricePoller) Start(ctx context.Context) { p.loop.Start(ctx) }
func (p *PricePoller) Stop() { p.loop.Stop() }
func (p *PricePoller) Running() bool { return p.loop.Running() }

// Snapshot returns the latest published snapshot. Callers must not mutate it.
func (p *PricePoller) Snapshot() domain.PriceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

func (p *PricePoller) poll(ctx context.Context) {
	start := p.clock.Now()
	quotes, err := p.source.FetchQuotes(ctx)
	p.metrics.FetchDuration.WithLabelValues(pricePollerName).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		p.metrics.Ticks.WithLabelValues(pricePollerName, "error").Inc()
		slog.WarnContext(ctx, "Price fetch failed", "error", err)
		return
	}
	p.metrics.Ticks.WithLabelValues(pricePollerName, "ok").Inc()

	next, unique, duplicates := indexQuotes(quotes)
	p.reportDuplicates(ctx, duplicates)

	p.mu.RLock()
	prev := p.snapshot
	p.mu.RUnlock()

	changed := diffIndexed(prev, unique)

	p.mu.Lock()
	p.snapshot = next
	p.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	delivered := p.dispatcher.PricesChanged(ctx, changed)
	p.metrics.ItemsEmitted.WithLabelValues(pricePollerName).Add(float64(len(changed)))
	slog.DebugContext(ctx, "Price changes emitted", "changed", len(changed), "delivered", delivered)

	if p.alerts != nil {
		p.alerts.Evaluate(ctx, changed)
	}
}

// reportDuplicates warns when the set of symbols listed by more than one
// instrument table changes, instead of on every tick.
func (p *PricePoller) reportDuplicates(ctx context.Context, duplicates []string) {
	key := strings.Join(duplicates, ",")
	if key == p.lastDuplicates {
		return
	}
	p.lastDuplicates = key
	if len(duplicates) > 0 {
		slog.WarnContext(ctx, "Symbol listed in more than one instrument table, keeping the first row", "symbols", duplicates)
	}
}

// DiffQuotes returns the quotes in next that are new to prev or whose price
// differs from the previous one, in the order they appear in next. Symbols
// are normalized and the first row wins for a repeated symbol, the same rule
// the published snapshot uses.
func DiffQuotes(prev domain.PriceSnapshot, next []domain.Quote) []domain.Quote {
	_, unique, _ := indexQuotes(next)
	return diffIndexed(prev, unique)
}

func diffIndexed(prev domain.PriceSnapshot, unique []domain.Quote) []domain.Quote {
	var changed []domain.Quote
	for _, q := range unique {
		old, ok := prev[q.Symbol]
		if !ok || !old.Price.Equal(q.Price) {
			changed = append(changed, q)
		}
	}
	return changed
}

// indexQuotes normalizes symbols and keeps the first row per symbol. It
// returns the snapshot, the kept rows in input order and the sorted symbols
// that were repeated.
func indexQuotes(quotes []domain.Quote) (domain.PriceSnapshot, []domain.Quote, []string) {
	snapshot := make(domain.PriceSnapshot, len(quotes))
	unique := make([]domain.Quote, 0, len(quotes))
	var duplicates []string

	for _, q := range quotes {
		q.Symbol = domain.NormalizeSymbol(q.Symbol)
		if _, dup := snapshot[q.Symbol]; dup {
			if !slices.Contains(duplicates, q.Symbol) {
				duplicates = append(duplicates, q.Symbol)
			}
			continue
		}
		snapshot[q.Symbol] = q
		unique = append(unique, q)
	}
	slices.Sort(duplicates)
	return snapshot, unique, duplicates
}
