// Package trust decides whether a link's host belongs to a domain we consider
// legitimately governmental. The result is advisory: an untrusted host raises
// a domain warning for human review but never blocks publication on its own.
package trust

import (
	"net/url"
	"strings"
)

// Government suffixes every Japanese municipal site is expected to use.
var governmentSuffixes = []string{".lg.jp", ".go.jp"}

// Classifier labels URL hosts as trusted or warn-worthy. It is pure and
// total: malformed input maps to untrusted, never to an error.
type Classifier struct {
	allowed map[string]struct{}
}

// NewClassifier builds a classifier with an allow-list of non-standard but
// legitimate civic domains (prefecture-specific suffixes, e-government
// portals). Entries are matched as host suffixes, case-insensitively.
func NewClassifier(allowList []string) *Classifier {
	allowed := make(map[string]struct{}, len(allowList))
	for _, d := range allowList {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		allowed[strings.TrimPrefix(d, ".")] = struct{}{}
	}
	return &Classifier{allowed: allowed}
}

// Trusted reports whether the URL's host is on the government suffix list or
// the configured allow-list. Empty and unparseable URLs are untrusted.
func (c *Classifier) Trusted(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	for _, suffix := range governmentSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	for domain := range c.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Warn is the inverse of Trusted for a non-empty URL: it reports whether the
// entity should carry a domain warning. Entities without a link never warn.
func (c *Classifier) Warn(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	return !c.Trusted(rawURL)
}
