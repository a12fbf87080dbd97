package decision

import (
	"fmt"
	"strings"

	"github.com/brightboard/safety-gate/internal/classifier"
	"github.com/brightboard/safety-gate/internal/moderation"
	"github.com/brightboard/safety-gate/internal/rules"
)

// Policy holds the tunable thresholds of the combiner.
type Policy struct {
	// SeverityThreshold is the classifier severity at or above which a
	// flagged message is blocked rather than only escalated.
	SeverityThreshold int

	// ForceReviewOnUnavailable escalates student messages the classifier
	// could not score.
	ForceReviewOnUnavailable bool
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		SeverityThreshold:        3,
		ForceReviewOnUnavailable: true,
	}
}

// Combiner applies a Policy.
type Combiner struct {
	policy Policy
}

// NewCombiner creates a combiner for p.
func NewCombiner(p Policy) *Combiner {
	return &Combiner{policy: p}
}

// Policy returns the active policy.
func (c *Combiner) Policy() Policy {
	return c.policy
}

// signals is the input split the way the priority rules need it.
type signals struct {
	residual       []moderation.Match // pattern matches that are not self-harm-adjacent
	selfHarmMatch  bool
	flagged        bool // classifier returned a flagged verdict
	otherCats      []string
	selfHarmCats   []string
	classifierHigh bool // flagged, non-self-harm categories, severity >= threshold
}

func (c *Combiner) split(in Input) signals {
	var s signals
	for _, m := range in.Pattern.Matches {
		if m.SelfHarmAdjacent {
			s.selfHarmMatch = true
			continue
		}
		s.residual = append(s.residual, m)
	}

	mod := in.Moderation
	if in.Availability == classifier.Available && mod.Flagged {
		s.flagged = true
		for _, cat := range mod.Categories {
			if classifier.IsSelfHarmCategory(cat) {
				s.selfHarmCats = append(s.selfHarmCats, cat)
			} else {
				s.otherCats = append(s.otherCats, cat)
			}
		}
		onlySelfHarm := len(s.selfHarmCats) > 0 && len(s.otherCats) == 0
		s.classifierHigh = !onlySelfHarm && mod.Severity >= c.policy.SeverityThreshold
	}
	return s
}

// Combine evaluates the priority rules:
//
//  1. A crisis signal never blocks on its own. Self-harm-adjacent pattern
//     reasons and self-harm classifier categories are dropped; whatever is
//     left (sexual/violent content, unrelated high-severity categories)
//     may still block. The concern carries the crisis type and no
//     compliance record is written.
//  2. A pattern hit blocks and is audited; violent or sexual hits also
//     escalate.
//  3. A flagged classifier verdict blocks at or above the threshold and
//     escalates either way. Jailbreak attempts always escalate.
//  4. An unavailable classifier escalates when the policy asks for it.
//  5. Otherwise the message is allowed.
//
// When several rules fire, blocking and escalation are each OR-ed, so the
// most severe action wins and the explanation lists every contributor.
func (c *Combiner) Combine(in Input) Verdict {
	s := c.split(in)

	if crisisType := crisisTypeOf(in, s); crisisType != "" {
		return c.crisisVerdict(in, s, crisisType)
	}

	var (
		v        Verdict
		block    bool
		escalate bool
		sev      Severity
		concern  string
		explain  []string
	)

	if in.Pattern.Blocked {
		block = true
		v.Reasons = in.Pattern.MatchedReasons
		v.Audit = true
		for _, r := range in.Pattern.MatchedReasons {
			v.AuditReasons = append(v.AuditReasons, string(r))
		}
		for _, m := range in.Pattern.Matches {
			if m.Family.Escalates() {
				escalate = true
				if concern == "" {
					concern = string(m.Reason)
				}
			}
			sev = maxSeverity(sev, severityFromScore(m.Severity))
		}
		explain = append(explain, "pattern: "+joinReasons(in.Pattern.MatchedReasons))
	}

	if s.flagged {
		mod := in.Moderation
		escalate = true
		v.Categories = mod.Categories
		modSev := severityFromScore(mod.Severity)

		switch {
		case mod.JailbreakDetected:
			if concern == "" {
				concern = ConcernJailbreak
			}
			modSev = maxSeverity(modSev, SeverityMedium)
			explain = append(explain, "jailbreak attempt")
		case len(s.otherCats) > 0:
			if concern == "" {
				concern = s.otherCats[0]
			}
		default:
			if concern == "" {
				concern = ConcernModeration
			}
		}
		if s.classifierHigh {
			block = true
			v.Audit = true
			for _, cat := range s.otherCats {
				v.AuditReasons = append(v.AuditReasons, "moderation:"+cat)
			}
			if len(s.otherCats) == 0 {
				v.AuditReasons = append(v.AuditReasons, "moderation:"+concern)
			}
		}
		sev = maxSeverity(sev, modSev)
		if len(mod.Categories) > 0 {
			explain = append(explain, fmt.Sprintf("moderation: %s (severity %d)", strings.Join(mod.Categories, ", "), mod.Severity))
		}
	}

	if !block && !escalate && in.Availability == classifier.Unavailable && c.policy.ForceReviewOnUnavailable {
		escalate = true
		concern = ConcernUnclassified
		sev = SeverityLow
		explain = append(explain, "classifier unavailable")
	}

	v.Action = actionOf(block, escalate)
	v.RedactedText = in.Pattern.RedactedText
	if v.RedactedText == "" {
		v.RedactedText = in.Text
	}
	if len(v.AuditReasons) > 0 {
		v.AuditReason = v.AuditReasons[0]
	}

	if block {
		if len(v.Reasons) > 0 {
			v.UserMessage = rules.UserMessage(in.Locale, v.Reasons)
		} else {
			v.UserMessage = rules.GenericMessage(in.Locale)
		}
	} else {
		v.Text = v.RedactedText
	}

	if escalate {
		if sev == "" {
			sev = SeverityLow
		}
		v.Escalation = &Escalation{
			ConcernType: concern,
			Severity:    sev,
			Explanation: strings.Join(explain, "; "),
		}
	}
	return v
}

// crisisTypeOf returns the crisis concern type, or "" when the message
// carries no crisis signal. The crisis detector wins; a self-harm pattern
// or classifier category without a detector hit still counts as a
// self-harm signal.
func crisisTypeOf(in Input, s signals) string {
	switch {
	case in.Crisis.HasConcern:
		return in.Crisis.ConcernType
	case s.selfHarmMatch, len(s.selfHarmCats) > 0:
		return moderation.ConcernSelfHarm
	}
	return ""
}

func (c *Combiner) crisisVerdict(in Input, s signals, crisisType string) Verdict {
	v := Verdict{Crisis: true}

	var (
		block   bool
		explain = []string{"crisis: " + crisisType}
		sev     = SeverityCritical
	)
	if crisisType == moderation.ConcernEmotionalDistress {
		sev = SeverityHigh
	}

	var redactable []moderation.Match
	var residualReasons []rules.ReasonCode
	seen := make(map[rules.ReasonCode]bool)
	for _, m := range s.residual {
		if !seen[m.Reason] {
			seen[m.Reason] = true
			residualReasons = append(residualReasons, m.Reason)
		}
		if m.Family.Escalates() {
			block = true
		} else {
			redactable = append(redactable, m)
		}
	}
	if len(residualReasons) > 0 {
		v.Reasons = residualReasons
		explain = append(explain, "pattern: "+joinReasons(residualReasons))
	}

	if s.classifierHigh && len(s.otherCats) > 0 {
		block = true
		v.Categories = s.otherCats
	}
	if s.flagged {
		if in.Moderation.JailbreakDetected {
			explain = append(explain, "jailbreak attempt")
		}
		// Reviewers see every flagged category, including those below the
		// blocking threshold.
		if len(in.Moderation.Categories) > 0 {
			explain = append(explain, fmt.Sprintf("moderation: %s (severity %d)", strings.Join(in.Moderation.Categories, ", "), in.Moderation.Severity))
		}
	}

	v.RedactedText = moderation.Redact(in.Text, redactable)
	if block {
		v.Action = BlockAndEscalate
		v.UserMessage = rules.CrisisSupportMessage(in.Locale)
	} else {
		v.Action = AllowAndEscalate
		v.Text = v.RedactedText
	}

	v.Escalation = &Escalation{
		ConcernType: crisisType,
		Severity:    sev,
		Explanation: strings.Join(explain, "; "),
	}
	return v
}

func joinReasons(rs []rules.ReasonCode) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
