// Package decision merges the outputs of the pattern filter, crisis
// detector and moderation classifier into one action. The combiner is
// pure: it performs no I/O and the same inputs always give the same
// verdict.
package decision

import (
	"github.com/brightboard/safety-gate/internal/classifier"
	"github.com/brightboard/safety-gate/internal/moderation"
	"github.com/brightboard/safety-gate/internal/rules"
)

// Action is the gate's verdict for one message.
type Action string

const (
	Allow            Action = "allow"
	Block            Action = "block"
	AllowAndEscalate Action = "allow_and_escalate"
	BlockAndEscalate Action = "block_and_escalate"
)

// Blocks reports whether the message is withheld from the AI responder.
func (a Action) Blocks() bool {
	return a == Block || a == BlockAndEscalate
}

// Escalates reports whether a concern is opened for teacher review.
func (a Action) Escalates() bool {
	return a == AllowAndEscalate || a == BlockAndEscalate
}

func actionOf(block, escalate bool) Action {
	switch {
	case block && escalate:
		return BlockAndEscalate
	case block:
		return Block
	case escalate:
		return AllowAndEscalate
	}
	return Allow
}

// Severity is the review priority of a concern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// severityFromScore maps a 0..5 rule or classifier score to a review
// severity.
func severityFromScore(score int) Severity {
	switch {
	case score >= 5:
		return SeverityCritical
	case score >= 4:
		return SeverityHigh
	case score >= 3:
		return SeverityMedium
	}
	return SeverityLow
}

// Concern types produced by the combiner in addition to the crisis types
// reported by the crisis detector.
const (
	ConcernJailbreak    = "jailbreak"
	ConcernUnclassified = "unclassified"
	ConcernModeration   = "moderation"
)

// Escalation describes the concern a verdict asks to open.
type Escalation struct {
	ConcernType string
	Severity    Severity
	Explanation string
}

// Input is everything the combiner looks at for one message.
type Input struct {
	Text         string
	Locale       string
	Pattern      moderation.PatternOutcome
	Crisis       moderation.CrisisOutcome
	Moderation   classifier.Outcome
	Availability classifier.Availability
}

// Verdict is the combined result. Text is what the chat pipeline forwards
// to the AI responder; it is empty when the action blocks.
type Verdict struct {
	Action      Action
	Text        string
	UserMessage string

	// RedactedText is the message with every applied redaction, kept for
	// reviewers even when the message is blocked.
	RedactedText string

	// Reasons and Categories are the pattern reasons and moderation
	// categories that drove the verdict.
	Reasons    []rules.ReasonCode
	Categories []string

	// Audit asks for a FilteredContentRecord. Never set when Crisis is.
	Audit        bool
	AuditReason  string
	AuditReasons []string

	Crisis     bool
	Escalation *Escalation
}
