// Package origin validates browser Origin headers for the watch WebSocket.
package origin

import (
	"net/url"
	"strings"
)

// Allowed reports whether a request with the given Origin header may use the
// watch endpoint. An empty allowlist admits every origin, including requests
// without one (non-browser clients). With an allowlist, a missing or
// unparseable Origin is rejected.
func Allowed(originHeader string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}

	normalized, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	for _, allowed := range allowlist {
		if candidate, ok := Normalize(allowed); ok && candidate == normalized {
			return true
		}
	}
	return false
}

// Normalize canonicalizes an origin to scheme://host[:port] with the scheme
// and host lowercased and default ports stripped. The opaque origin "null"
// (sandboxed iframes, file URLs) normalizes to itself.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + host + ":" + port, true
	}
	return scheme + "://" + host, true
}
