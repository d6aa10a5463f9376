package domain

import (
	"context"
	"time"
)

// RequestLogEntry is one API request recorded for usage analytics.
type RequestLogEntry struct {
	Method        string
	Path          string
	Status        int
	LatencyMS     int64
	Identity      string
	IP            string
	UserAgent     string
	CorrelationID string
	CreatedAt     time.Time
}

type RequestLogRepository interface {
	InsertBatch(ctx context.Context, entries []RequestLogEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
