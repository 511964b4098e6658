package safety

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// CanonicalHost lowercases a hostname, strips a trailing FQDN dot, and folds
// every loopback spelling (127.0.0.0/8, ::1, localhost, *.localhost) into the
// single "localhost" class so that pattern and URL hosts compare equal.
func CanonicalHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == loopbackHost || strings.HasSuffix(host, "."+loopbackHost) {
		return loopbackHost
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return loopbackHost
		}
		return ip.String()
	}
	return host
}

// EffectivePort returns the port a URL addresses: the explicit port when one
// is present, otherwise the scheme default. Schemes without a well-known
// default yield "".
func EffectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}

// ParseNavigationURL parses a raw navigation endpoint into a URL. Unlike the
// tolerant list parsing, an unparseable or relative URL here is an error: a
// navigation we cannot interpret must be rejected by the caller, never
// silently allowed.
func ParseNavigationURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty navigation url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse navigation url %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("navigation url %q has no scheme", raw)
	}
	return u, nil
}
