package policy

import (
	"net/url"
	"strings"
)

const wildcardPrefix = "*."

// MatchHost reports whether hostname matches pattern.
// "*.base" matches base itself and any subdomain of it; anything else must
// be equal. Empty inputs never match.
func MatchHost(hostname, pattern string) bool {
	if hostname == "" || pattern == "" {
		return false
	}
	if base, ok := strings.CutPrefix(pattern, wildcardPrefix); ok {
		if base == "" {
			return false
		}
		return hostname == base || strings.HasSuffix(hostname, "."+base)
	}
	return hostname == pattern
}

// matchAny returns the first pattern hostname matches.
func matchAny(hostname string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if MatchHost(hostname, p) {
			return p, true
		}
	}
	return "", false
}

// NormalizePattern cleans user input: trims, lower-cases, and reduces a
// pasted URL to its hostname. The "*." prefix is preserved.
func NormalizePattern(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	wildcard := strings.HasPrefix(p, wildcardPrefix)
	if wildcard {
		p = p[len(wildcardPrefix):]
	}
	if strings.Contains(p, "://") {
		if u, err := url.Parse(p); err == nil {
			p = u.Hostname()
		}
	} else if i := strings.IndexAny(p, "/?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSuffix(p, ".")
	if p == "" {
		return ""
	}
	if wildcard {
		return wildcardPrefix + p
	}
	return p
}

// HostOf extracts the lower-cased hostname of an http or https URL.
// Anything else, including unparsable input, reports false.
func HostOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}
