package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertCondition is the direction a price alert fires on.
type AlertCondition string

const (
	AlertAbove AlertCondition = "above"
	AlertBelow AlertCondition = "below"
)

// PriceAlert is a user-defined one-shot price threshold.
type PriceAlert struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Identity    string          `json:"-" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Condition   AlertCondition  `json:"condition" db:"condition"`
	TargetPrice decimal.Decimal `json:"target_price" db:"target_price"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Matches reports whether price crosses the alert's threshold.
func (a PriceAlert) Matches(price decimal.Decimal) bool {
	switch a.Condition {
	case AlertAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case AlertBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// AlertRepository loads active alerts and claims them once triggered.
// MarkTriggered returns ErrAlertAlreadyFired when another instance won
// the claim.
type AlertRepository interface {
	ActiveAlertsFor(ctx context.Context, symbols []string) ([]PriceAlert, error)
	MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time) error
}
