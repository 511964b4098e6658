package safety

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidPattern reports a pattern string that failed to compile. Callers
// drop the single rule carrying the pattern and keep the rest of the list.
var ErrInvalidPattern = errors.New("invalid origin pattern")

const (
	subdomainPrefix = "[*.]"
	loopbackHost    = "localhost"
)

// PatternMatcher is the compiled form of one side of a safety rule. It
// describes a class of origins in the content-settings pattern family:
//
//	*                     any URL
//	[*.]example.com       example.com and every subdomain
//	example.com           exactly example.com
//	https://*             any host, https only
//	https://a.com:8080    exact scheme, host, and port
//
// A matcher is immutable once compiled; a pattern either compiles fully or
// CompilePattern fails with ErrInvalidPattern.
type PatternMatcher struct {
	raw        string
	matchAll   bool
	scheme     string
	anyHost    bool
	host       string
	subdomains bool
	port       string
}

// CompilePattern parses pattern into a PatternMatcher. A scheme of "*" (or no
// scheme at all) leaves the matcher scheme-agnostic across http and https; an
// explicit scheme binds exactly. An explicit port constrains the URL's
// effective port. Hosts are lowercased, and loopback literals fold into one
// equivalence class with "localhost".
func CompilePattern(pattern string) (*PatternMatcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	m := &PatternMatcher{raw: pattern}
	if pattern == "*" {
		m.matchAll = true
		return m, nil
	}

	rest := pattern
	if scheme, after, found := strings.Cut(rest, "://"); found {
		if scheme != "*" {
			if !validScheme(scheme) {
				return nil, fmt.Errorf("%w: bad scheme %q in %q", ErrInvalidPattern, scheme, pattern)
			}
			m.scheme = strings.ToLower(scheme)
		}
		rest = after
	}
	if strings.ContainsAny(rest, "/?#@") {
		return nil, fmt.Errorf("%w: only scheme, host, and port are allowed in %q", ErrInvalidPattern, pattern)
	}
	if strings.HasPrefix(rest, subdomainPrefix) {
		m.subdomains = true
		rest = rest[len(subdomainPrefix):]
	}

	host, port, err := splitPatternHostPort(rest)
	if err != nil {
		return nil, err
	}
	if host == "*" {
		if m.subdomains {
			return nil, fmt.Errorf("%w: %q combines the subdomain prefix with a host wildcard", ErrInvalidPattern, pattern)
		}
		m.anyHost = true
	} else {
		canon, err := canonicalPatternHost(host)
		if err != nil {
			return nil, err
		}
		m.host = canon
	}
	m.port = port
	return m, nil
}

// Matches reports whether the concrete URL falls inside the class of origins
// this matcher describes. Comparison is case-insensitive on scheme and host;
// only the origin triple (scheme, host, effective port) participates.
func (m *PatternMatcher) Matches(u *url.URL) bool {
	if m == nil || u == nil {
		return false
	}
	if m.matchAll {
		return true
	}
	scheme := strings.ToLower(u.Scheme)
	if m.scheme != "" {
		if scheme != m.scheme {
			return false
		}
	} else if scheme != "http" && scheme != "https" {
		return false
	}
	host := CanonicalHost(u.Hostname())
	if host == "" {
		return false
	}
	if !m.anyHost {
		if m.subdomains {
			if host != m.host && !strings.HasSuffix(host, "."+m.host) {
				return false
			}
		} else if host != m.host {
			return false
		}
	}
	if m.port != "" && EffectivePort(u) != m.port {
		return false
	}
	return true
}

// String returns the pattern text the matcher was compiled from.
func (m *PatternMatcher) String() string {
	if m == nil {
		return ""
	}
	return m.raw
}

// splitPatternHostPort separates the host and optional port of the pattern
// remainder. Bracketed IPv6 literals keep their colons; a lone "[" or any
// unbalanced bracket is rejected.
func splitPatternHostPort(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("%w: missing host", ErrInvalidPattern)
	}
	var host, port string
	hasPort := false
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", "", fmt.Errorf("%w: unbalanced %q in %q", ErrInvalidPattern, "[", s)
		}
		host = s[1:end]
		switch rest := s[end+1:]; {
		case rest == "":
		case strings.HasPrefix(rest, ":"):
			port = rest[1:]
			hasPort = true
		default:
			return "", "", fmt.Errorf("%w: unexpected %q after address in %q", ErrInvalidPattern, rest, s)
		}
		if net.ParseIP(host) == nil {
			return "", "", fmt.Errorf("%w: %q is not an IP literal", ErrInvalidPattern, host)
		}
	} else if i := strings.LastIndexByte(s, ':'); i >= 0 {
		host, port = s[:i], s[i+1:]
		hasPort = true
		if strings.Contains(host, ":") {
			// The colon belongs to an unbracketed IPv6 literal, not a port.
			host, port, hasPort = s, "", false
		}
	} else {
		host = s
	}
	if host == "" {
		return "", "", fmt.Errorf("%w: missing host in %q", ErrInvalidPattern, s)
	}
	if hasPort {
		if err := validatePort(port); err != nil {
			return "", "", err
		}
	}
	return host, port, nil
}

func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("%w: empty port", ErrInvalidPattern)
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: bad port %q", ErrInvalidPattern, port)
		}
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: bad port %q", ErrInvalidPattern, port)
	}
	return nil
}

// canonicalPatternHost validates and canonicalizes the host half of a
// pattern: IP literals are normalized through net.ParseIP, names are
// lowercased and checked label by label, and loopback spellings collapse to
// the shared loopback class.
func canonicalPatternHost(host string) (string, error) {
	lower := strings.ToLower(host)
	if ip := net.ParseIP(lower); ip != nil {
		if ip.IsLoopback() {
			return loopbackHost, nil
		}
		return ip.String(), nil
	}
	for _, label := range strings.Split(lower, ".") {
		if label == "" {
			return "", fmt.Errorf("%w: empty label in host %q", ErrInvalidPattern, host)
		}
		for _, r := range label {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				continue
			}
			return "", fmt.Errorf("%w: illegal character %q in host %q", ErrInvalidPattern, r, host)
		}
	}
	return CanonicalHost(lower), nil
}

func validScheme(scheme string) bool {
	if scheme == "" {
		return false
	}
	for i, r := range strings.ToLower(scheme) {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}
