package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/correlation"
)

const defaultRetentionInterval = time.Hour

// Lease gates work that must run on a single instance. Acquire both takes
// and renews the lease for its holder.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RetentionJob periodically deletes request-log rows older than the
// retention period. With a lease, only the lease holder purges.
type RetentionJob struct {
	repo      domain.RequestLogRepository
	lease     Lease
	clock     clockwork.Clock
	retention time.Duration
	interval  time.Duration
}

// NewRetentionJob creates the job. lease may be nil for single-instance runs.
func NewRetentionJob(repo domain.RequestLogRepository, lease Lease, clock clockwork.Clock, retention time.Duration) *RetentionJob {
	return &RetentionJob{
		repo:      repo,
		lease:     lease,
		clock:     clock,
		retention: retention,
		interval:  defaultRetentionInterval,
	}
}

// Run purges on every interval. It blocks until ctx is cancelled and
// releases the lease on the way out.
func (j *RetentionJob) Run(ctx context.Context) {
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()
	defer j.release()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.RunOnce(correlation.WithID(ctx, correlation.NewID()))
		}
	}
}

// RunOnce performs a single purge if this instance holds the lease and
// returns the number of rows deleted.
func (j *RetentionJob) RunOnce(ctx context.Context) int64 {
	if j.lease != nil {
		leader, err := j.lease.Acquire(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Retention: lease check failed", "error", err)
			return 0
		}
		if !leader {
			slog.DebugContext(ctx, "Retention: not the leader, skipping")
			return 0
		}
	}

	cutoff := j.clock.Now().Add(-j.retention)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.WarnContext(ctx, "Retention: purge failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if deleted > 0 {
		slog.InfoContext(ctx, "Retention: purged request logs", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}

func (j *RetentionJob) release() {
	if j.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.lease.Release(ctx); err != nil {
		slog.Warn("Retention: failed to release lease", "error", err)
	}
}
