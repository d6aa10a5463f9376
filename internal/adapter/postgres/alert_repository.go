package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// AlertRepo implements domain.AlertRepository.
type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

const activeAlertsSQL = `
SELECT id, user_id, symbol, condition, target_price, created_at
FROM price_alerts
WHERE is_active AND triggered_at IS NULL AND symbol = ANY($1)
ORDER BY created_at, id`

func (r *AlertRepo) ActiveAlertsFor(ctx context.Context, symbols []string) ([]domain.PriceAlert, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, activeAlertsSQL, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.PriceAlert])
	if err != nil {
		return nil, fmt.Errorf("failed to scan active alerts: %w", err)
	}
	return alerts, nil
}

// MarkTriggered claims the alert. Only the first caller updates the row;
// later callers get domain.ErrAlertAlreadyFired.
func (r *AlertRepo) MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE price_alerts
		SET triggered_at = $2, is_active = FALSE
		WHERE id = $1 AND triggered_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark alert triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertAlreadyFired
	}
	return nil
}
