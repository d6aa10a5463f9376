package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKind distinguishes the three price tables.
type InstrumentKind string

const (
	KindStock     InstrumentKind = "stock"
	KindCommodity InstrumentKind = "commodity"
	KindIndex     InstrumentKind = "index"
)

// Quote is one instrument's entry in the price snapshot.
type Quote struct {
	Symbol        string          `json:"symbol" db:"symbol"`
	Kind          InstrumentKind  `json:"kind" db:"kind"`
	Name          string          `json:"name,omitempty" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Change        decimal.Decimal `json:"change" db:"change"`
	ChangePercent decimal.Decimal `json:"change_percent" db:"change_percent"`
	Volume        int64           `json:"volume" db:"volume"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// PriceSnapshot maps instrument symbol to its last fetched quote.
// A published snapshot is never mutated; pollers replace it wholesale.
type PriceSnapshot map[string]Quote

// Select returns the quotes for the given symbols, or every quote when
// symbols is empty. Unknown symbols are skipped.
func (s PriceSnapshot) Select(symbols []string) map[string]Quote {
	if len(symbols) == 0 {
		out := make(map[string]Quote, len(s))
		for k, q := range s {
			out[k] = q
		}
		return out
	}
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := s[NormalizeSymbol(sym)]; ok {
			out[q.Symbol] = q
		}
	}
	return out
}

// PriceSource fetches the full current price table for stocks,
// commodities and indices.
type PriceSource interface {
	FetchQuotes(ctx context.Context) ([]Quote, error)
}

// SnapshotReader serves the latest price snapshot to new subscribers.
type SnapshotReader interface {
	Snapshot() PriceSnapshot
}
