// Package moderation provides the deterministic content checks of the
// safety gate: the rule-based PatternFilter that blocks and redacts
// personal information, off-platform contact, violent, sexual and
// structural content, and the CrisisDetector that flags self-harm, abuse
// and acute-distress language for escalation.
package moderation

import (
	"sort"
	"strings"

	"github.com/brightboard/safety-gate/internal/rules"
)

// PatternFilter evaluates messages against the active rule set. It holds no
// mutable state of its own and is safe for concurrent use.
type PatternFilter struct {
	rules *rules.Holder
}

// NewPatternFilter creates a filter reading rules from h.
func NewPatternFilter(h *rules.Holder) *PatternFilter {
	return &PatternFilter{rules: h}
}

// Evaluate runs every rule family, in order, over text. Rules tagged
// minors-only apply when the sender is a minor or the room is in strict
// mode. Rules tagged skip-if-educational are skipped when the message reads
// as a school question. A leading command token bypasses all rules.
func (f *PatternFilter) Evaluate(text string, isMinorSender, strictMode bool) PatternOutcome {
	rs := f.rules.Load()
	out := PatternOutcome{RedactedText: text, RuleVersion: rs.Version}

	if strings.TrimSpace(text) == "" {
		return out
	}
	if isCommand(rs, text) {
		out.Command = true
		return out
	}

	minorTolerance := isMinorSender || strictMode
	out.Educational = IsEducational(rs, rules.Normalize(text))

	for _, r := range rs.Rules {
		if !r.Applies(minorTolerance, out.Educational) {
			continue
		}
		for _, span := range r.FindAll(text) {
			if r.Kind == rules.KindLink && linkAllowed(rs, text[span[0]:span[1]]) {
				continue
			}
			out.Matches = append(out.Matches, Match{
				RuleID:           r.ID,
				Reason:           r.Reason,
				Family:           r.Family,
				Start:            span[0],
				End:              span[1],
				Severity:         r.Severity,
				SelfHarmAdjacent: r.SelfHarmAdjacent,
				placeholder:      r.Placeholder,
			})
		}
	}

	if len(out.Matches) == 0 {
		return out
	}

	out.Blocked = true
	seen := make(map[rules.ReasonCode]bool)
	for _, m := range out.Matches {
		if !seen[m.Reason] {
			seen[m.Reason] = true
			out.MatchedReasons = append(out.MatchedReasons, m.Reason)
		}
	}
	out.RedactedText = redact(text, out.Matches)
	return out
}

// Redact re-applies a subset of an outcome's matches to the original text.
// It is used to mask only some reasons, e.g. personal details in a message
// that is otherwise forwarded unmodified.
func Redact(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	return redact(text, matches)
}

// isCommand reports whether the first token of text is a configured command
// token such as "/assess".
func isCommand(rs *rules.RuleSet, text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	for _, tok := range rs.CommandTokens {
		if strings.EqualFold(fields[0], tok) {
			return true
		}
	}
	return false
}

// redact replaces every matched span with its rule's placeholder.
// Overlapping spans are merged and take the placeholder of the span that
// starts first (ties go to the earlier rule).
func redact(text string, matches []Match) string {
	spans := make([]Match, len(matches))
	copy(spans, matches)
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for i := 0; i < len(spans); {
		cur := spans[i]
		end := cur.End
		j := i + 1
		for j < len(spans) && spans[j].Start < end {
			if spans[j].End > end {
				end = spans[j].End
			}
			j++
		}
		b.WriteString(text[pos:cur.Start])
		b.WriteString(cur.placeholder)
		pos = end
		i = j
	}
	b.WriteString(text[pos:])
	return b.String()
}
