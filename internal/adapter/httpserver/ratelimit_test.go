package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/marketpulse/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

// limited wraps h the way the admin group does, with error mapping outside
// the limiter.
func limited(ratePerSecond float64, burst int, h echo.HandlerFunc) echo.HandlerFunc {
	return ErrorHandlingMiddleware()(newRateLimiter(ratePerSecond, burst)(h))
}

func TestRateLimiter(t *testing.T) {
	type hit struct {
		remoteAddr string
		want       int
	}

	tests := []struct {
		name  string
		rate  float64
		burst int
		hits  []hit
	}{
		{
			name:  "under the burst",
			rate:  10,
			burst: 3,
			hits:  []hit{{testRemoteAddr, 200}, {testRemoteAddr, 200}, {testRemoteAddr, 200}},
		},
		{
			name:  "burst exhausted",
			rate:  0.01,
			burst: 1,
			hits:  []hit{{testRemoteAddr, 200}, {testRemoteAddr, 429}},
		},
		{
			name:  "clients limited independently",
			rate:  0.01,
			burst: 1,
			hits:  []hit{{testRemoteAddr, 200}, {"5.6.7.8:5678", 200}, {testRemoteAddr, 429}, {"5.6.7.8:5678", 429}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := limited(tt.rate, tt.burst, func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})

			for i, h := range tt.hits {
				req := httptest.NewRequest(http.MethodGet, "/admin/stream/stats", nil)
				req.RemoteAddr = h.remoteAddr
				rec := httptest.NewRecorder()

				require.NoError(t, handler(e.NewContext(req, rec)))
				assert.Equal(t, h.want, rec.Code, "hit %d from %s", i, h.remoteAddr)
			}
		})
	}
}

func TestRateLimiter_RejectionBody(t *testing.T) {
	tests := []struct {
		rate           float64
		wantRetryAfter string
	}{
		{0.01, "100"},
		{0.3, "4"},
		{5, "1"},
	}

	for _, tt := range tests {
		e := echo.New()
		handler := limited(tt.rate, 1, func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})

		var rec *httptest.ResponseRecorder
		for range 2 {
			req := httptest.NewRequest(http.MethodGet, "/admin/stream/stats", nil)
			req.RemoteAddr = testRemoteAddr
			rec = httptest.NewRecorder()
			require.NoError(t, handler(e.NewContext(req, rec)))
		}

		require.Equal(t, http.StatusTooManyRequests, rec.Code, "rate %g", tt.rate)
		assert.Equal(t, tt.wantRetryAfter, rec.Header().Get("Retry-After"))
		var resp apperrors.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "rate limit exceeded", resp.Error)
		assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
		assert.Equal(t, tt.wantRetryAfter, resp.Context["retry_after_seconds"])
	}
}
