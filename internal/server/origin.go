// Package server screens websocket handshakes by their Origin header against
// the configured allow-list before any upgrade happens.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the compiled handshake allow-list. The zero value rejects
// every origin.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
}

// compileOriginPolicy canonicalizes the configured origins into a policy and
// returns the canonical list alongside it. Invalid entries are logged and
// skipped; a "*" entry admits every origin.
func compileOriginPolicy(origins []string) (originPolicy, []string) {
	policy := originPolicy{allowed: make(map[string]struct{})}
	canonical := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}

		c, ok := canonicalOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		policy.allowed[c] = struct{}{}
		canonical = append(canonical, c)
	}

	return policy, canonical
}

// canonicalOrigin reduces an origin to its lowercased scheme and host so that
// configured and presented origins compare regardless of case.
func canonicalOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// permits reports whether the request's Origin header is acceptable under the
// policy. Requests without an Origin header are rejected.
func (p originPolicy) permits(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}

	c, ok := canonicalOrigin(header)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok = p.allowed[c]
	return ok
}

// checkOrigin is the upgrader hook. It reads the active policy so origin
// changes applied through SetConfig take effect on the next handshake.
func checkOrigin(r *http.Request) bool {
	configMu.RLock()
	policy := activePolicy
	configMu.RUnlock()

	if policy.permits(r) {
		return true
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", r.Header.Get("Origin"))
	return false
}
