package moderation

import (
	"strings"

	"github.com/brightboard/safety-gate/internal/rules"
)

// Crisis concern types produced by the default rule set.
const (
	ConcernSelfHarm          = "self_harm"
	ConcernAbuseDisclosure   = "abuse_disclosure"
	ConcernEmotionalDistress = "emotional_distress"
)

// CrisisDetector flags messages that contain self-harm, abuse or
// acute-distress phrases. It never blocks or modifies text; a positive
// result only routes the message to a human.
type CrisisDetector struct {
	rules *rules.Holder
}

// NewCrisisDetector creates a detector reading phrase lists from h.
func NewCrisisDetector(h *rules.Holder) *CrisisDetector {
	return &CrisisDetector{rules: h}
}

// Check normalizes text once and looks for the crisis phrases list by list.
// The first list with a hit decides ConcernType, so list order in the rule
// set is the priority order.
func (d *CrisisDetector) Check(text string) CrisisOutcome {
	if strings.TrimSpace(text) == "" {
		return CrisisOutcome{}
	}
	padded := " " + rules.Normalize(text) + " "
	for _, list := range d.rules.Load().Crisis {
		for _, p := range list.Phrases {
			if strings.Contains(padded, " "+p+" ") {
				return CrisisOutcome{HasConcern: true, ConcernType: list.Type, Phrase: p}
			}
		}
	}
	return CrisisOutcome{}
}
