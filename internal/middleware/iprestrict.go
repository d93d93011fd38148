package middleware

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
)

// ParseAllowedIPs reads a comma-separated list of addresses and CIDR
// prefixes. A bare address is a single-host prefix. Blank input yields an
// empty list.
func ParseAllowedIPs(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("allowed IPs: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("allowed IPs: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// remoteAddr extracts the caller address from r.RemoteAddr, which chi's
// RealIP has already rewritten when a proxy header was present.
func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// AllowIPs answers 403 to callers outside allowed. An empty list lets
// every caller through.
func AllowIPs(allowed []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if addr, ok := remoteAddr(r); ok {
				for _, p := range allowed {
					if p.Contains(addr) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			log.Printf("[auth] rejected %s: not in allowed IPs", logutil.SanitizeForLog(r.RemoteAddr))
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Access denied"})
		})
	}
}
