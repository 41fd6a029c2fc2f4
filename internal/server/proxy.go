// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// parseTrustedProxies parses a list of CIDR strings into net.IPNet values.
func parseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, mederr.Errorf(mederr.CodeServerConfigInvalid,
				"invalid trusted proxy CIDR %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	if len(nets) == 0 {
		return nil, mederr.New(mederr.CodeServerConfigInvalid,
			"trusted_proxies must contain at least one valid CIDR range")
	}
	return nets, nil
}

func isTrustedProxy(ip net.IP, trusted []*net.IPNet) bool {
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// peerHost strips the port from a RemoteAddr; addresses without a port
// are returned as is.
func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// trustedProxyRealIP rewrites r.RemoteAddr to the leftmost X-Forwarded-For
// address (or X-Real-IP) only when the direct peer is a trusted proxy, so
// rate limiting keys on the real client.
func trustedProxyRealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer := net.ParseIP(peerHost(r.RemoteAddr))
			if peer == nil || !isTrustedProxy(peer, trusted) {
				next.ServeHTTP(w, r)
				return
			}

			forwarded := r.Header.Get("X-Forwarded-For")
			if forwarded == "" {
				forwarded = r.Header.Get("X-Real-IP")
			}
			client, _, _ := strings.Cut(forwarded, ",")
			client = strings.TrimSpace(client)

			switch {
			case client == "":
			case net.ParseIP(client) != nil:
				r.RemoteAddr = net.JoinHostPort(client, "0")
			default:
				slog.Warn("invalid forwarded client IP, using peer address",
					"forwarded", client,
					"peer", peer.String(),
				)
			}

			next.ServeHTTP(w, r)
		})
	}
}
