package httpserver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/redis"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/config"
)

const testAdminToken = "s3cret-admin-token"

type fakeRegistry struct {
	stats       broadcast.Stats
	connections []broadcast.ConnectionInfo
}

func (f *fakeRegistry) Stats() broadcast.Stats { return f.stats }
func (f *fakeRegistry) Connections() []broadcast.ConnectionInfo { return f.connections }

type fakeInstances struct {
	instances []redis.InstanceInfo
	err       error
}

func (f *fakeInstances) Active(_ context.Context) ([]redis.InstanceInfo, error) {
	return f.instances, f.err
}

type marketCall struct {
	updateType string
	data       string
}

type fakeMarket struct {
	mu        sync.Mutex
	calls     []marketCall
	delivered int
	err       error
}

func (f *fakeMarket) MarketUpdate(_ context.Context, updateType string, data json.RawMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, marketCall{updateType: updateType, data: string(data)})
	return f.delivered, f.err
}

type fakeRequestLog struct {
	mu      sync.Mutex
	entries []domain.RequestLogEntry
	full    bool
}

func (f *fakeRequestLog) Enqueue(entry domain.RequestLogEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.entries = append(f.entries, entry)
	return true
}

func (f *fakeRequestLog) snapshot() []domain.RequestLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RequestLogEntry(nil), f.entries...)
}

// --- Test helpers ---

func newTestServer(t *testing.T, opts ...func(*config.Config, *Dependencies)) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:     "development",
		Port:       "0",
		AppURL:     "http://localhost:8080",
		AdminToken: testAdminToken,
		InstanceID: "instance-a",
	}
	deps := Dependencies{
		Registry: &fakeRegistry{},
		Market:   &fakeMarket{},
		Clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	return NewServer(cfg, deps)
}

func withHealthChecks(checks ...HealthCheck) func(*config.Config, *Dependencies) {
	return func(_ *config.Config, d *Dependencies) {
		d.HealthChecks = checks
	}
}

func withRegistry(r StreamRegistry) func(*config.Config, *Dependencies) {
	return func(_ *config.Config, d *Dependencies) {
		d.Registry = r
	}
}

func withInstances(i InstanceLister) func(*config.Config, *Dependencies) {
	return func(_ *config.Config, d *Dependencies) {
		d.Instances = i
	}
}

func withMarket(m MarketPublisher) func(*config.Config, *Dependencies) {
	return func(_ *config.Config, d *Dependencies) {
		d.Market = m
	}
}

func withRequestLog(r RequestLogSink) func(*config.Config, *Dependencies) {
	return func(_ *config.Config, d *Dependencies) {
		d.RequestLog = r
	}
}

func withoutAdminToken() func(*config.Config, *Dependencies) {
	return func(cfg *config.Config, _ *Dependencies) {
		cfg.AdminToken = ""
	}
}
