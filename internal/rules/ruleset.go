// Package rules holds the versioned, immutable rule set used by the safety
// gate: pattern rules per family, crisis phrase lists, the educational
// context lexicon, link allow-list, and command tokens. A RuleSet is built
// once at startup (or on reload) and never mutated afterwards; swaps go
// through Holder.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/brightboard/safety-gate/internal/metrics"
)

// ErrInvalidRule is returned when a rule set fails validation.
var ErrInvalidRule = errors.New("rules: invalid rule")

// Kind selects how a rule's pattern is applied.
type Kind string

const (
	// KindRegex: every pattern match is a hit.
	KindRegex Kind = "regex"
	// KindLink: a match is a hit only when its host is not allow-listed.
	KindLink Kind = "link"
)

// Rule is one compiled pattern rule.
type Rule struct {
	ID                string
	Family            Family
	Reason            ReasonCode
	Kind              Kind
	Pattern           string
	SkipIfEducational bool
	MinorsOnly        bool
	SelfHarmAdjacent  bool
	Severity          int
	Placeholder       string

	re *regexp.Regexp
}

// FindAll returns the byte spans of every match of the rule in text.
func (r *Rule) FindAll(text string) [][]int {
	return r.re.FindAllStringIndex(text, -1)
}

// Applies reports whether the rule is active for a sender with the given
// tolerance and an already-computed educational flag.
func (r *Rule) Applies(minorTolerance, educational bool) bool {
	if r.MinorsOnly && !minorTolerance {
		return false
	}
	if r.SkipIfEducational && educational {
		return false
	}
	return true
}

// CrisisList is an ordered group of crisis phrases that share a concern
// type.
type CrisisList struct {
	Type    string
	Phrases []string // normalized
}

// Lexicon is the educational-context vocabulary. All entries normalized.
type Lexicon struct {
	Subjects []string
	Tasks    []string
	Anatomy  []string
}

// RuleSet is an immutable, versioned collection of rules. Rules are sorted
// by family order and keep their file order within a family.
type RuleSet struct {
	Version        string
	Rules          []*Rule
	AllowedDomains []string
	CommandTokens  []string
	Crisis         []CrisisList
	Educational    Lexicon
}

// Rule looks up a rule by id.
func (rs *RuleSet) Rule(id string) (*Rule, bool) {
	for _, r := range rs.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// DomainAllowed reports whether host is an allow-listed domain or a
// subdomain of one.
func (rs *RuleSet) DomainAllowed(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, d := range rs.AllowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// compile validates rule definitions and builds the regexes. The returned
// set owns copies of every slice it was given.
func compile(version string, rules []*Rule, domains, commands []string, crisis []CrisisList, lex Lexicon) (*RuleSet, error) {
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidRule)
	}

	seen := make(map[string]bool, len(rules))
	compiled := make([]*Rule, 0, len(rules))
	for _, src := range rules {
		r := *src
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule without id", ErrInvalidRule)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = true

		if r.Family.Rank() == len(FamilyOrder) {
			return nil, fmt.Errorf("%w: %s: unknown family %q", ErrInvalidRule, r.ID, r.Family)
		}
		if !r.Reason.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown reason %q", ErrInvalidRule, r.ID, r.Reason)
		}
		if r.Kind == "" {
			r.Kind = KindRegex
		}
		if r.Kind != KindRegex && r.Kind != KindLink {
			return nil, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidRule, r.ID, r.Kind)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("%w: %s: empty pattern", ErrInvalidRule, r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, r.ID, err)
		}
		if r.Placeholder == "" {
			r.Placeholder = r.Reason.Placeholder()
		}
		r.re = re
		compiled = append(compiled, &r)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Family.Rank() < compiled[j].Family.Rank()
	})

	rs := &RuleSet{
		Version:        version,
		Rules:          compiled,
		AllowedDomains: normalizeDomains(domains),
		CommandTokens:  append([]string(nil), commands...),
		Educational: Lexicon{
			Subjects: normalizeAll(lex.Subjects),
			Tasks:    normalizeAll(lex.Tasks),
			Anatomy:  normalizeAll(lex.Anatomy),
		},
	}
	for _, c := range crisis {
		if c.Type == "" {
			return nil, fmt.Errorf("%w: crisis list without type", ErrInvalidRule)
		}
		rs.Crisis = append(rs.Crisis, CrisisList{Type: c.Type, Phrases: normalizeAll(c.Phrases)})
	}
	return rs, nil
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "*.")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if n := strings.TrimSpace(Normalize(p)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Normalize lowercases text, drops apostrophes, and turns every other
// non-alphanumeric rune into a single space, so that phrase lookups are
// insensitive to punctuation and contractions ("Don't!" -> "dont").
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’' || r == '‘':
			continue
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 && unicode.IsLetter(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// ContainsPhrase reports whether the normalized phrase occurs in the
// normalized text on word boundaries.
func ContainsPhrase(normalizedText, phrase string) bool {
	return strings.Contains(" "+normalizedText+" ", " "+phrase+" ")
}

// Holder publishes the active rule set to concurrent readers. Readers call
// Load once per evaluation, so a swap never mixes two versions within one
// message.
type Holder struct {
	p atomic.Pointer[RuleSet]
}

// NewHolder returns a holder serving rs.
func NewHolder(rs *RuleSet) *Holder {
	h := &Holder{}
	h.Store(rs)
	return h
}

// Load returns the current rule set.
func (h *Holder) Load() *RuleSet {
	return h.p.Load()
}

// Store replaces the current rule set.
func (h *Holder) Store(rs *RuleSet) {
	h.p.Store(rs)
	metrics.SetRuleSetVersion(rs.Version)
}
