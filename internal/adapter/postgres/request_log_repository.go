package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// RequestLogRepo implements domain.RequestLogRepository.
type RequestLogRepo struct {
	pool *pgxpool.Pool
}

func NewRequestLogRepo(pool *pgxpool.Pool) *RequestLogRepo {
	return &RequestLogRepo{pool: pool}
}

var requestLogColumns = []string{
	"method", "path", "status", "latency_ms", "user_id", "ip", "user_agent", "correlation_id", "created_at",
}

// InsertBatch writes entries with a single COPY.
func (r *RequestLogRepo) InsertBatch(ctx context.Context, entries []domain.RequestLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"api_request_logs"}, requestLogColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.Method, e.Path, e.Status, e.LatencyMS, e.Identity, e.IP, e.UserAgent, e.CorrelationID, e.CreatedAt}, nil
		}))
	if err != nil {
		return fmt.Errorf("failed to copy request logs: %w", err)
	}
	return nil
}

func (r *RequestLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_request_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete request logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountOlderThan reports how many rows DeleteOlderThan would remove.
func (r *RequestLogRepo) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_request_logs WHERE created_at < $1`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count request logs: %w", err)
	}
	return n, nil
}
