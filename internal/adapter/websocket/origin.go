package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a stream.
type originPolicy struct {
	exact map[string]struct{}
	// scheme -> host suffixes including the leading dot
	wildcards   map[string][]string
	development bool
}

func newOriginPolicy(appURL string, development bool, extra ...string) *originPolicy {
	p := &originPolicy{
		exact:       make(map[string]struct{}),
		wildcards:   make(map[string][]string),
		development: development,
	}
	for _, raw := range append([]string{appURL}, extra...) {
		p.add(raw)
	}
	return p
}

func (p *originPolicy) add(raw string) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		if raw != "" {
			slog.Warn("Ignoring invalid allowed origin", "origin", raw)
		}
		return
	}
	scheme, host := strings.ToLower(u.Scheme), strings.ToLower(u.Host)

	if suffix, ok := strings.CutPrefix(host, "*"); ok && strings.HasPrefix(suffix, ".") {
		p.wildcards[scheme] = append(p.wildcards[scheme], suffix)
		return
	}
	if strings.Contains(host, "*") {
		slog.Warn("Ignoring invalid allowed origin", "origin", raw)
		return
	}
	p.exact[scheme+"://"+host] = struct{}{}
}

func (p *originPolicy) allows(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	scheme, host := strings.ToLower(u.Scheme), strings.ToLower(u.Host)

	if _, ok := p.exact[scheme+"://"+host]; ok {
		return true
	}
	for _, suffix := range p.wildcards[scheme] {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	if p.development {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	return false
}

// NewCheckOrigin returns the upgrader's origin check. Requests without an
// Origin header come from native clients and are always allowed.
func NewCheckOrigin(appURL string, development bool, extraOrigins ...string) func(r *http.Request) bool {
	policy := newOriginPolicy(appURL, development, extraOrigins...)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || policy.allows(origin) {
			return true
		}
		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}
