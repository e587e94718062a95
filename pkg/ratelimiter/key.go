package ratelimiter

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// KeyFunc extracts a rate limit key from the request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by client address. Proxy headers are honoured only
// when trustProxy is set, otherwise any client could pick its own key.
func ClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
				if ip := parseIP(r.Header.Get(h)); ip != "" {
					return "ip:" + ip
				}
			}
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				first, _, _ := strings.Cut(fwd, ",")
				if ip := parseIP(first); ip != "" {
					return "ip:" + ip
				}
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := parseIP(host); ip != "" {
			return "ip:" + ip
		}
		return "ip:unknown"
	}
}

// ByUser keys authenticated requests by user id and falls back to fallback
// for anonymous ones.
func ByUser(userID func(context.Context) string, fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if id := userID(r.Context()); id != "" {
			return "user:" + id
		}
		return fallback(r)
	}
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
