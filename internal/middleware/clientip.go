package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPExtractor resolves the identity of the client behind a request.
//
// With no trusted proxies only the connection peer is used, so forwarding
// headers cannot be spoofed. When the peer is a trusted proxy the
// X-Forwarded-For chain is walked right to left and the first untrusted
// hop wins; X-Real-IP is consulted only when X-Forwarded-For is absent.
type ClientIPExtractor struct {
	trusted []netip.Prefix
}

// NewClientIPExtractor parses trustedProxies as CIDRs or single addresses.
// Unparseable entries are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	prefixes := make([]netip.Prefix, 0, len(trustedProxies))
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return &ClientIPExtractor{trusted: prefixes}
}

// Extract returns the client identity for r in canonical textual form.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	peer := canonical(stripPort(r.RemoteAddr))
	if len(e.trusted) == 0 || !e.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Values(HeaderXForwardedFor); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := canonical(strings.TrimSpace(hops[i]))
			if hop == "" {
				continue
			}
			if !e.isTrusted(hop) {
				return hop
			}
		}
		return peer
	}

	if realIP := canonical(strings.TrimSpace(r.Header.Get(HeaderXRealIP))); realIP != "" {
		return realIP
	}
	return peer
}

func (e *ClientIPExtractor) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range e.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// canonical rewrites an address to its shortest form so "::ffff:10.0.0.1"
// and "10.0.0.1" share one identity. Non-addresses are returned unchanged
// and rejected later by identity validation.
func canonical(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().WithZone("").String()
}

// stripPort removes the port from "host:port" and "[v6]:port".
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
