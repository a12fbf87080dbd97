package moderation

import "github.com/brightboard/safety-gate/internal/rules"

// Match is one span of text hit by a rule.
type Match struct {
	RuleID           string           `json:"rule_id"`
	Reason           rules.ReasonCode `json:"reason"`
	Family           rules.Family     `json:"family"`
	Start            int              `json:"start"`
	End              int              `json:"end"`
	Severity         int              `json:"severity"`
	SelfHarmAdjacent bool             `json:"self_harm_adjacent"`

	placeholder string
}

// PatternOutcome is the result of running the rule families over a message.
// RedactedText equals the input when nothing matched.
type PatternOutcome struct {
	Blocked        bool               `json:"blocked"`
	MatchedReasons []rules.ReasonCode `json:"matched_reasons"`
	RedactedText   string             `json:"redacted_text"`
	Matches        []Match            `json:"matches,omitempty"`

	Educational bool   `json:"educational"`
	Command     bool   `json:"command"`
	RuleVersion string `json:"rule_version"`
}

// CrisisOutcome reports whether a message carries a crisis signal.
type CrisisOutcome struct {
	HasConcern  bool   `json:"has_concern"`
	ConcernType string `json:"concern_type,omitempty"`
	Phrase      string `json:"-"` // matched phrase; never logged or persisted
}
