package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
)

var (
	proxiesMu      sync.RWMutex
	trustedProxies []*net.IPNet
)

// SetTrustedProxies sets the peers whose forwarding headers GetIP honours.
// Entries are CIDRs or bare addresses. An empty list trusts nobody.
func SetTrustedProxies(entries []string) error {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return fmt.Errorf("invalid trusted proxy %q", e)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		nets = append(nets, n)
	}

	proxiesMu.Lock()
	trustedProxies = nets
	proxiesMu.Unlock()
	return nil
}

func isTrustedProxy(ip net.IP) bool {
	proxiesMu.RLock()
	defer proxiesMu.RUnlock()
	for _, n := range trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// GetIP returns the client address. Forwarding headers count only when the direct
// peer is a trusted proxy; X-Forwarded-For is then read right to left and the first
// hop that is not itself a trusted proxy wins.
func GetIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(strings.TrimSpace(host))
	if peer == nil {
		return "", fmt.Errorf("No valid ip found")
	}
	if !isTrustedProxy(peer) {
		return peer.String(), nil
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				// hops left of a malformed entry were written by an untrusted party
				break
			}
			client = ip
			if !isTrustedProxy(ip) {
				break
			}
		}
		return client.String(), nil
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String(), nil
	}
	return peer.String(), nil
}
