// Package gate is the single entry point of the message safety gate. It
// sequences the checks for one inbound message (pattern filter and crisis
// detector, then the moderation classifier, then the combiner) and hands
// the resulting side effects to the effects dispatcher so the caller never
// waits on storage.
package gate

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/brightboard/safety-gate/internal/audit"
	"github.com/brightboard/safety-gate/internal/classifier"
	"github.com/brightboard/safety-gate/internal/concern"
	"github.com/brightboard/safety-gate/internal/decision"
	"github.com/brightboard/safety-gate/internal/effects"
	"github.com/brightboard/safety-gate/internal/history"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/metrics"
	"github.com/brightboard/safety-gate/internal/moderation"
	"github.com/brightboard/safety-gate/internal/protocol"
	"github.com/brightboard/safety-gate/internal/roster"
	"github.com/brightboard/safety-gate/internal/rules"
)

// Decision is what the chat pipeline acts on. Text is forwarded to the AI
// responder for Allow and AllowAndEscalate; for the blocking actions Text is
// empty and UserFacingMessage is shown to the student instead.
type Decision struct {
	MessageID         string             `json:"message_id"`
	Action            decision.Action    `json:"action"`
	Text              string             `json:"text,omitempty"`
	UserFacingMessage string             `json:"user_facing_message,omitempty"`
	ConcernID         string             `json:"concern_id,omitempty"`
	Reasons           []rules.ReasonCode `json:"reasons,omitempty"`
	RuleVersion       string             `json:"rule_version,omitempty"`
}

// EventPublisher announces newly created concerns.
type EventPublisher interface {
	PublishConcernCreated(ctx context.Context, ev protocol.ConcernCreatedMsg) error
}

// Deps are the collaborators of a Gate. Events may be nil.
type Deps struct {
	Rules      *rules.Holder
	Classifier *classifier.Guard
	Policy     decision.Policy
	Roster     roster.Directory
	Concerns   *concern.Queue
	Audit      *audit.Logger
	History    history.Source
	Events     EventPublisher
	Effects    *effects.Dispatcher
	Locale     string // default locale for user-facing text
}

// Gate evaluates inbound messages. It is safe for concurrent use.
type Gate struct {
	filter   *moderation.PatternFilter
	crisis   *moderation.CrisisDetector
	guard    *classifier.Guard
	combiner *decision.Combiner
	roster   roster.Directory
	effects  *effects.Dispatcher
	locale   string

	concerns *concern.Queue
	audit    *audit.Logger
	history  history.Source
	events   EventPublisher
}

// New builds a Gate and registers its side-effect handlers on d.Effects.
func New(d Deps) *Gate {
	locale := d.Locale
	if locale == "" {
		locale = "en"
	}
	guard := d.Classifier
	if guard == nil {
		guard = classifier.NewGuard(nil, 0)
	}
	g := &Gate{
		filter:   moderation.NewPatternFilter(d.Rules),
		crisis:   moderation.NewCrisisDetector(d.Rules),
		guard:    guard,
		combiner: decision.NewCombiner(d.Policy),
		roster:   d.Roster,
		effects:  d.Effects,
		locale:   locale,
		concerns: d.Concerns,
		audit:    d.Audit,
		history:  d.History,
		events:   d.Events,
	}
	g.registerHandlers()
	return g
}

// Evaluate decides what happens to m. Empty text is allowed with no side
// effects. A message that fails validation for any other reason (missing
// ids, oversize text) returns an error and must not be forwarded, except
// that oversize text carrying a crisis signal is blocked and escalated.
func (g *Gate) Evaluate(ctx context.Context, m message.Inbound) (Decision, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluateLatency.Observe(time.Since(start).Seconds())
	}()

	var tooLong error
	if err := message.Validate(m); err != nil {
		switch {
		case errors.Is(err, message.ErrEmpty):
			metrics.Decisions.WithLabelValues(string(decision.Allow)).Inc()
			return Decision{MessageID: m.MessageID, Action: decision.Allow}, nil
		case errors.Is(err, message.ErrTooLong):
			tooLong = err
		default:
			return Decision{}, err
		}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	locale := m.Locale
	if locale == "" {
		locale = g.locale
	}

	profile := g.profile(ctx, m)
	role := m.SenderRole
	if role == "" {
		role = profile.Role
	}
	isMinor := profile.IsMinor
	if m.IsMinor != nil {
		isMinor = *m.IsMinor
	}
	strict := m.StrictMode || profile.StrictMode

	// Both deterministic checks run before any blocking decision exists.
	pattern := g.filter.Evaluate(m.Text, isMinor, strict)
	crisis := g.crisis.Check(m.Text)

	mod, avail := classifier.Outcome{}, classifier.Skipped
	if role.RequiresClassifier() && !pattern.Command && tooLong == nil {
		mod, avail = g.guard.Classify(ctx, m.Text, classifier.Context{
			SenderID:  m.SenderID,
			RoomID:    m.RoomID,
			MessageID: m.MessageID,
		})
	}

	v := g.combiner.Combine(decision.Input{
		Text:         m.Text,
		Locale:       locale,
		Pattern:      pattern,
		Crisis:       crisis,
		Moderation:   mod,
		Availability: avail,
	})
	if tooLong != nil {
		if !v.Crisis {
			return Decision{}, tooLong
		}
		v = blockOversize(v, locale)
	}

	d := Decision{
		MessageID:         m.MessageID,
		Action:            v.Action,
		Text:              v.Text,
		UserFacingMessage: v.UserMessage,
		Reasons:           v.Reasons,
		RuleVersion:       pattern.RuleVersion,
	}
	if v.Escalation != nil {
		d.ConcernID = concern.IDFor(m.MessageID)
	}

	g.record(m, pattern, crisis, v)
	g.dispatch(ctx, m, profile, pattern, v)
	return d, nil
}

// blockOversize withholds a crisis verdict whose text is over the size
// limits. The concern is still opened.
func blockOversize(v decision.Verdict, locale string) decision.Verdict {
	v.Action = decision.BlockAndEscalate
	v.Text = ""
	v.UserMessage = rules.CrisisSupportMessage(locale)
	if v.Escalation != nil {
		e := *v.Escalation
		e.Explanation += "; oversize message"
		v.Escalation = &e
	}
	return v
}

// profile asks the roster about the sender. Any failure falls back to the
// narrowest tolerance: a minor student.
func (g *Gate) profile(ctx context.Context, m message.Inbound) roster.Profile {
	if g.roster == nil {
		return roster.UnknownProfile
	}
	p, err := g.roster.Profile(ctx, m.SenderID, m.RoomID)
	if err != nil {
		log.Printf("[gate] WARN roster lookup sender=%s room=%s: %v (treating as minor)", m.SenderID, m.RoomID, err)
		return roster.UnknownProfile
	}
	if p.Role == "" {
		p.Role = message.RoleStudent
	}
	return p
}

func (g *Gate) record(m message.Inbound, pattern moderation.PatternOutcome, crisis moderation.CrisisOutcome, v decision.Verdict) {
	metrics.Decisions.WithLabelValues(string(v.Action)).Inc()
	for _, r := range pattern.MatchedReasons {
		metrics.PatternMatches.WithLabelValues(string(r)).Inc()
	}
	if crisis.HasConcern {
		metrics.CrisisDetected.WithLabelValues(crisis.ConcernType).Inc()
	}

	if v.Action == decision.Allow {
		return
	}
	concernType := ""
	if v.Escalation != nil {
		concernType = v.Escalation.ConcernType
	}
	log.Printf("[gate] %s message=%s sender=%s reasons=%v categories=%v concern=%s",
		v.Action, m.MessageID, m.SenderID, v.Reasons, v.Categories, concernType)
}
