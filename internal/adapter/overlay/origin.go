package overlay

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which pages may open an overlay WebSocket. The
// overlay is embedded in OBS, so besides the service's own pages it admits
// OBS browser sources: requests without an Origin, the obs:// scheme and
// the opaque "null" origin of a local overlay file.
type OriginPolicy struct {
	app       *url.URL // nil when APP_URL has no host
	loopback  bool
	rejectLog func(origin, remote string)
}

func NewOriginPolicy(appURL string, isDevelopment bool) *OriginPolicy {
	p := &OriginPolicy{
		loopback: isDevelopment,
		rejectLog: func(origin, remote string) {
			slog.Warn("Overlay origin rejected", "origin", origin, "remote_addr", remote)
		},
	}
	if u, err := url.Parse(appURL); err == nil && u.Host != "" {
		p.app = u
	}
	return p
}

// Allow is the upgrader's CheckOrigin.
func (p *OriginPolicy) Allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allowed(origin, r.Host) {
		return true
	}
	p.rejectLog(origin, r.RemoteAddr)
	return false
}

func (p *OriginPolicy) allowed(origin, requestHost string) bool {
	switch origin {
	case "", "null":
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Scheme, "obs") {
		return true
	}
	if u.Host == "" {
		return false
	}

	// The overlay page itself, under whatever host OBS reached it by.
	if strings.EqualFold(u.Host, requestHost) {
		return true
	}
	if p.app != nil && strings.EqualFold(u.Scheme, p.app.Scheme) && strings.EqualFold(u.Host, p.app.Host) {
		return true
	}
	return p.loopback && isLoopback(u.Hostname())
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
