package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey     = "marketpulse:instances"
	instanceStaleAge = 60 * time.Second
)

// StatsSource reports local connection statistics for the heartbeat.
type StatsSource interface {
	Stats() broadcast.Stats
}

// InstanceInfo is one instance's last heartbeat.
type InstanceInfo struct {
	InstanceID  string    `json:"instance_id"`
	Version     string    `json:"version"`
	Connections int       `json:"connections"`
	Identities  int       `json:"identities"`
	StartedAt   time.Time `json:"started_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// InstanceRegistry publishes this instance's heartbeat into a shared hash
// and lists the instances whose heartbeat is recent.
type InstanceRegistry struct {
	client     *goredis.Client
	instanceID string
	version    string
	interval   time.Duration
	stats      StatsSource
	clock      clockwork.Clock
	startedAt  time.Time
}

func NewInstanceRegistry(client *goredis.Client, instanceID, version string, interval time.Duration, stats StatsSource, clock clockwork.Clock) *InstanceRegistry {
	return &InstanceRegistry{
		client:     client,
		instanceID: instanceID,
		version:    version,
		interval:   interval,
		stats:      stats,
		clock:      clock,
		startedAt:  clock.Now().UTC(),
	}
}

// Run heartbeats immediately and then every interval. On cancellation it
// removes this instance's entry and returns.
func (r *InstanceRegistry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			r.unregister()
			return
		case <-ticker.Chan():
			r.heartbeat(ctx)
		}
	}
}

func (r *InstanceRegistry) heartbeat(ctx context.Context) {
	info := InstanceInfo{
		InstanceID:  r.instanceID,
		Version:     r.version,
		StartedAt:   r.startedAt,
		HeartbeatAt: r.clock.Now().UTC(),
	}
	if r.stats != nil {
		s := r.stats.Stats()
		info.Connections = s.TotalConnections
		info.Identities = s.UniqueIdentities
	}

	data, err := json.Marshal(info)
	if err != nil {
		slog.Error("Failed to encode heartbeat", "error", err)
		return
	}
	if err := r.client.HSet(ctx, instancesKey, r.instanceID, data).Err(); err != nil {
		slog.Warn("Heartbeat failed", "instance_id", r.instanceID, "error", err)
	}
}

func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.HDel(ctx, instancesKey, r.instanceID).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "instance_id", r.instanceID, "error", err)
	}
}

// Active returns the instances that sent a heartbeat within the last
// minute, sorted by id.
func (r *InstanceRegistry) Active(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.client.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	now := r.clock.Now()
	active := make([]InstanceInfo, 0, len(entries))
	for id, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			slog.Debug("Skipping malformed instance entry", "instance_id", id, "error", err)
			continue
		}
		if now.Sub(info.HeartbeatAt) < instanceStaleAge {
			active = append(active, info)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].InstanceID < active[j].InstanceID })
	return active, nil
}
