package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
)

func TestQueryName(t *testing.T) {
	assert.Equal(t, "select", queryName("SELECT 1"))
	assert.Equal(t, "update", queryName("\n\t  UPDATE price_alerts SET triggered_at = $2"))
	assert.Equal(t, "unknown", queryName("   "))
	assert.Equal(t, "abcdefghijklmnopqrst", queryName("abcdefghijklmnopqrstuvwxyz"))
}

func TestQueryTracer_RecordsErrors(t *testing.T) {
	m := metrics.NewDBMetrics(prometheus.NewRegistry())
	tracer := NewQueryTracer(m)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "DELETE FROM api_request_logs"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("delete")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("select")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
}

func TestQueryTracer_EndWithoutStartIsIgnored(t *testing.T) {
	m := metrics.NewDBMetrics(prometheus.NewRegistry())
	NewQueryTracer(m).TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	assert.Equal(t, 0, testutil.CollectAndCount(m.QueryErrors))
}

func TestExtractSSLMode(t *testing.T) {
	assert.Equal(t, "require", extractSSLMode("postgres://u:p@db:5432/app?sslmode=REQUIRE"))
	assert.Equal(t, "prefer (default)", extractSSLMode("postgres://u:p@db:5432/app"))
}
