package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is the identity shared by clients whose address cannot be
// determined.
const Unknown = "unknown"

// UnidentifiedPolicy decides how clients without a usable address are
// admitted.
type UnidentifiedPolicy string

const (
	// UnidentifiedShare puts all unidentified clients in one window.
	UnidentifiedShare UnidentifiedPolicy = "share"
	// UnidentifiedReject refuses unidentified clients outright.
	UnidentifiedReject UnidentifiedPolicy = "reject"
)

// ParseUnidentifiedPolicy accepts "share" or "reject"; anything else
// falls back to share.
func ParseUnidentifiedPolicy(s string) UnidentifiedPolicy {
	if UnidentifiedPolicy(strings.ToLower(strings.TrimSpace(s))) == UnidentifiedReject {
		return UnidentifiedReject
	}
	return UnidentifiedShare
}

// Identify derives the client identity from forwarding headers, then the
// transport peer. The boolean is false when Unknown is returned.
func Identify(r *http.Request) (string, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first, true
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real, true
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != "" {
			return host, true
		}
	}
	return Unknown, false
}
