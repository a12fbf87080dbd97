package moderation

import (
	"net/url"
	"strings"

	"github.com/brightboard/safety-gate/internal/rules"
)

// linkAllowed reports whether a link matched by a link rule points at an
// allow-listed domain. Scheme-less matches ("www.x.org/a", "x.com/b") are
// parsed as https. Anything that does not parse to a host is treated as
// not allowed.
func linkAllowed(rs *rules.RuleSet, raw string) bool {
	raw = strings.TrimRight(raw, ".,;:!?)]}'\"")
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return rs.DomainAllowed(u.Hostname())
}
