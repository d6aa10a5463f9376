package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestPollerMetrics() *metrics.PollerMetrics {
	return metrics.NewPollerMetrics(prometheus.NewRegistry())
}

func quote(symbol string, price string) domain.Quote {
	return domain.Quote{Symbol: symbol, Kind: domain.KindStock, Price: decimal.RequireFromString(price)}
}

// --- recording deliverer ---

type delivery struct {
	Scope domain.Scope
	Msg   map[string]any
}

type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recordingDeliverer) Deliver(scope domain.Scope, msg []byte) int {
	var decoded map[string]any
	if err := json.Unmarshal(msg, &decoded); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{Scope: scope, Msg: decoded})
	return 1
}

func (r *recordingDeliverer) all() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

func (r *recordingDeliverer) ofType(t domain.MessageType) []delivery {
	var out []delivery
	for _, d := range r.all() {
		if d.Msg["type"] == string(t) {
			out = append(out, d)
		}
	}
	return out
}

func (r *recordingDeliverer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

// --- price source ---

type fakePriceSource struct {
	mu      sync.Mutex
	batches [][]domain.Quote
	err     error
	calls   int
}

func (f *fakePriceSource) FetchQuotes(_ context.Context) ([]domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return next, nil
}

func (f *fakePriceSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- news source ---

type newsFetch struct {
	Cursor domain.NewsCursor
	Limit  int
}

type fakeNewsSource struct {
	mu      sync.Mutex
	batches [][]domain.Article
	errs    []error
	fetches []newsFetch
}

func (f *fakeNewsSource) FetchArticlesAfter(_ context.Context, cursor domain.NewsCursor, limit int) ([]domain.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, newsFetch{Cursor: cursor, Limit: limit})

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

// --- watchlists ---

type fakeWatchlists struct {
	watchers map[string][]string
	err      error
}

func (f *fakeWatchlists) WatchersOf(_ context.Context, symbols []string) (map[string][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	out := map[string][]string{}
	for identity, watched := range f.watchers {
		for _, s := range watched {
			if _, ok := wanted[s]; ok {
				out[identity] = append(out[identity], s)
			}
		}
	}
	return out, nil
}

// --- alerts ---

type fakeAlertRepo struct {
	mu        sync.Mutex
	alerts    []domain.PriceAlert
	loadErr   error
	claimed   map[uuid.UUID]time.Time
	claimErrs map[uuid.UUID]error
}

func newFakeAlertRepo(alerts ...domain.PriceAlert) *fakeAlertRepo {
	return &fakeAlertRepo{alerts: alerts, claimed: map[uuid.UUID]time.Time{}, claimErrs: map[uuid.UUID]error{}}
}

func (f *fakeAlertRepo) ActiveAlertsFor(_ context.Context, symbols []string) ([]domain.PriceAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	var out []domain.PriceAlert
	for _, a := range f.alerts {
		if _, done := f.claimed[a.ID]; done {
			continue
		}
		if _, ok := wanted[a.Symbol]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) MarkTriggered(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.claimErrs[id]; err != nil {
		return err
	}
	if _, done := f.claimed[id]; done {
		return domain.ErrAlertAlreadyFired
	}
	f.claimed[id] = at
	return nil
}

// --- request logs and lease ---

type fakeRequestLogRepo struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakeRequestLogRepo) InsertBatch(_ context.Context, _ []domain.RequestLogEntry) error {
	return nil
}

func (f *fakeRequestLogRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func (f *fakeRequestLogRepo) purges() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.cutoffs))
	copy(out, f.cutoffs)
	return out
}

type fakeLease struct {
	mu       sync.Mutex
	leader   bool
	err      error
	released bool
}

func (f *fakeLease) Acquire(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader, f.err
}

func (f *fakeLease) Release(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *fakeLease) wasReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}
