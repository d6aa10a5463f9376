package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	extra := []string{"https://m.marketpulse.pk", "https://*.partners.marketpulse.pk", "not a url"}

	tests := []struct {
		name        string
		origin      string
		development bool
		want        bool
	}{
		{"no origin header", "", false, true},
		{"app origin", "https://app.marketpulse.pk", false, true},
		{"app origin mixed case", "https://APP.marketpulse.pk", false, true},
		{"extra origin", "https://m.marketpulse.pk", false, true},
		{"wildcard subdomain", "https://akd.partners.marketpulse.pk", false, true},
		{"wildcard nested subdomain", "https://x.akd.partners.marketpulse.pk", false, true},

		{"wildcard apex not matched", "https://partners.marketpulse.pk", false, false},
		{"wildcard wrong scheme", "http://akd.partners.marketpulse.pk", false, false},
		{"suffix lookalike", "https://evilpartners.marketpulse.pk", false, false},
		{"different host", "https://evil.com", false, false},
		{"different port", "https://app.marketpulse.pk:9090", false, false},
		{"plain http", "http://app.marketpulse.pk", false, false},
		{"garbage origin", "null", false, false},

		{"localhost in development", "http://localhost:5173", true, true},
		{"loopback in development", "http://127.0.0.1:3000", true, true},
		{"localhost in production", "http://localhost:5173", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewCheckOrigin("https://app.marketpulse.pk/dashboard", tt.development, extra...)
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, check(r))
		})
	}
}

func TestOriginPolicy_IgnoresInvalidEntries(t *testing.T) {
	p := newOriginPolicy("", false, "", "://bad", "https://*", "https://ok.pk")

	assert.Len(t, p.exact, 1)
	assert.Empty(t, p.wildcards)
	assert.True(t, p.allows("https://ok.pk"))
}
