package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

const (
	newsPollerName = "news"

	// BreakingImpactThreshold is exceeded by breaking articles' impact score.
	BreakingImpactThreshold = 8
)

var breakingKeywords = []string{
	"breaking",
	"urgent",
	"just in",
	"alert",
	"sbp",
	"interest rate",
	"monetary policy",
	"crash",
	"surge",
	"plunge",
	"soar",
}

// IsBreaking reports whether an article goes to every connection rather
// than only the news topic.
func IsBreaking(a domain.Article) bool {
	if a.ImpactScore > BreakingImpactThreshold {
		return true
	}
	title := strings.ToLower(a.Title)
	for _, kw := range breakingKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

type NewsPollerConfig struct {
	Interval     time.Duration
	Lookback     time.Duration
	BatchLimit   int
	SeenCapacity int
}

// NewsPoller periodically fetches recent articles and emits the ones no
// earlier tick has delivered.
type NewsPoller struct {
	source     domain.NewsSource
	watchlists domain.WatchlistRepository
	dispatcher *Dispatcher
	clock      clockwork.Clock
	metrics    *metrics.PollerMetrics
	seen       *SeenSet
	lookback   time.Duration
	limit      int
	loop       *pollLoop

	// cursor is only touched from the poll goroutine.
	cursor domain.NewsCursor
}

// NewNewsPoller creates a stopped poller. watchlists may be nil, which
// disables per-identity news alerts.
func NewNewsPoller(
	source domain.NewsSource,
	watchlists domain.WatchlistRepository,
	dispatcher *Dispatcher,
	clock clockwork.Clock,
	cfg NewsPollerConfig,
	m *metrics.PollerMetrics,
) *NewsPoller {
	n := &NewsPoller{
		source:     source,
		watchlists: watchlists,
		dispatcher: dispatcher,
		clock:      clock,
		metrics:    m,
		seen:       NewSeenSet(cfg.SeenCapacity),
		lookback:   cfg.Lookback,
		limit:      cfg.BatchLimit,
	}
	n.loop = newPollLoop(newsPollerName, cfg.Interval, clock, n.poll)
	return n
}

func (n *NewsPoller) Start(ctx context.Context) { n.loop.Start(ctx) }
func (n *NewsPoller) Stop() { n.loop.Stop() }
func (n *NewsPoller) Running() bool { return n.loop.Running() }

func (n *NewsPoller) poll(ctx context.Context) {
	tickStart := n.clock.Now()
	if n.cursor.CreatedAt.IsZero() {
		n.cursor = domain.NewsCursor{CreatedAt: tickStart.Add(-n.lookback)}
	}

	articles, err := n.source.FetchArticlesAfter(ctx, n.cursor, n.limit)
	n.metrics.FetchDuration.WithLabelValues(newsPollerName).Observe(n.clock.Since(tickStart).Seconds())
	if err != nil {
		// The window is kept so the next tick retries it.
		n.metrics.Ticks.WithLabelValues(newsPollerName, "error").Inc()
		slog.WarnContext(ctx, "News fetch failed", "since", n.cursor.CreatedAt, "error", err)
		return
	}
	n.metrics.Ticks.WithLabelValues(newsPollerName, "ok").Inc()
	n.cursor = n.nextCursor(tickStart, articles)

	fresh := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		if n.seen.Add(a.ID) {
			fresh = append(fresh, a)
		}
	}
	if len(fresh) == 0 {
		return
	}

	n.dispatcher.NewsPublished(ctx, fresh)
	n.metrics.ItemsEmitted.WithLabelValues(newsPollerName).Add(float64(len(fresh)))

	for _, a := range fresh {
		if IsBreaking(a) {
			n.dispatcher.BreakingNews(ctx, a)
		}
	}

	n.personalise(ctx, fresh)
}

// nextCursor returns the position of the next fetch. A full batch means more
// rows may be pending, possibly with the same created_at as the last one, so
// the next fetch continues right after it instead of jumping to the tick
// start.
func (n *NewsPoller) nextCursor(tickStart time.Time, articles []domain.Article) domain.NewsCursor {
	if len(articles) == 0 {
		return domain.NewsCursor{CreatedAt: tickStart}
	}
	last := articles[len(articles)-1]
	if (n.limit > 0 && len(articles) >= n.limit) || last.CreatedAt.After(tickStart) {
		return domain.CursorAfter(last)
	}
	return domain.NewsCursor{CreatedAt: tickStart}
}

// personalise sends a news_alert to every identity watching a symbol an
// article mentions.
func (n *NewsPoller) personalise(ctx context.Context, articles []domain.Article) {
	if n.watchlists == nil {
		return
	}

	var symbols []string
	for _, a := range articles {
		symbols = append(symbols, a.Symbols...)
	}
	symbols = domain.NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return
	}

	watchers, err := n.watchlists.WatchersOf(ctx, symbols)
	if err != nil {
		slog.WarnContext(ctx, "Watchlist lookup failed", "symbols", len(symbols), "error", err)
		return
	}

	identities := make([]string, 0, len(watchers))
	for identity := range watchers {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	for _, a := range articles {
		mentioned := domain.NormalizeSymbols(a.Symbols)
		for _, identity := range identities {
			matched := intersect(mentioned, watchers[identity])
			if len(matched) == 0 {
				continue
			}
			n.dispatcher.NewsAlert(ctx, identity, a, watchlistReason(matched))
		}
	}
}

func watchlistReason(symbols []string) string {
	return fmt.Sprintf("Related to %s in your watchlist", strings.Join(symbols, ", "))
}

// intersect keeps the elements of a that also occur in b, in a's order.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[domain.NormalizeSymbol(s)] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
