package outgoing

import (
	"net/url"
	"strings"
)

// domainRedactor matches hosts against exact names and suffix wildcards.
type domainRedactor struct {
	exact    map[string]struct{}
	suffixes []string
}

// newDomainRedactor returns nil when patterns holds nothing usable.
func newDomainRedactor(patterns []string) *domainRedactor {
	matcher := &domainRedactor{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (r *domainRedactor) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range r.suffixes {
		if existing == suffix {
			return
		}
	}
	r.suffixes = append(r.suffixes, suffix)
}

func (r *domainRedactor) matchesHost(host string) bool {
	if r == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := r.exact[host]; exact {
		return true
	}
	for _, suffix := range r.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// redact removes every URL in body whose host is listed.
func (r *domainRedactor) redact(body string) string {
	if r == nil {
		return body
	}
	return uriPattern.ReplaceAllStringFunc(body, func(match string) string {
		if r.matchesHost(hostOf(match)) {
			return ""
		}
		return match
	})
}

func hostOf(raw string) string {
	u, err := url.Parse(normalizeScheme(raw))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
