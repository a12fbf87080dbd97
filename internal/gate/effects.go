package gate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/brightboard/safety-gate/internal/audit"
	"github.com/brightboard/safety-gate/internal/concern"
	"github.com/brightboard/safety-gate/internal/decision"
	"github.com/brightboard/safety-gate/internal/effects"
	"github.com/brightboard/safety-gate/internal/history"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/moderation"
	"github.com/brightboard/safety-gate/internal/protocol"
	"github.com/brightboard/safety-gate/internal/roster"
)

// historyJob is the payload of an effects.KindHistory job.
type historyJob struct {
	Key   message.ConversationKey `json:"key"`
	Entry history.Entry           `json:"entry"`
}

var errNoStore = errors.New("gate: side-effect store not configured")

func (g *Gate) registerHandlers() {
	if g.effects == nil {
		return
	}
	g.effects.Handle(effects.KindHistory, g.handleHistory)
	g.effects.Handle(effects.KindConcern, g.handleConcern)
	g.effects.Handle(effects.KindAudit, g.handleAudit)
	g.effects.Handle(effects.KindEvent, g.handleEvent)
}

// dispatch submits the side effects of a verdict. Nothing here blocks on
// storage; failures are retried and parked by the dispatcher.
func (g *Gate) dispatch(ctx context.Context, m message.Inbound, p roster.Profile, pattern moderation.PatternOutcome, v decision.Verdict) {
	if g.effects == nil {
		return
	}

	role := m.SenderRole
	if role == "" {
		role = p.Role
	}
	g.submit(ctx, effects.KindHistory, m.MessageID, historyJob{
		Key: m.Key(),
		Entry: history.Entry{
			MessageID: m.MessageID,
			SenderID:  m.SenderID,
			Role:      role,
			Text:      v.RedactedText,
			Timestamp: m.Timestamp,
			Blocked:   v.Action.Blocks(),
		},
	})

	if v.Escalation != nil {
		g.submit(ctx, effects.KindConcern, m.MessageID, concern.NewConcern{
			MessageID:       m.MessageID,
			SenderID:        m.SenderID,
			ReviewerOwnerID: p.OwnerID,
			RoomID:          m.RoomID,
			BotID:           m.BotID,
			ConcernType:     v.Escalation.ConcernType,
			SeverityLevel:   string(v.Escalation.Severity),
			Explanation:     v.Escalation.Explanation,
		})
	}

	// Crisis messages never reach the compliance log.
	if v.Audit && !v.Crisis {
		g.submit(ctx, effects.KindAudit, m.MessageID, audit.FilteredContentRecord{
			MessageID:      m.MessageID,
			SenderID:       m.SenderID,
			RoomID:         m.RoomID,
			TruncatedText:  audit.Truncate(m.Text),
			Reason:         v.AuditReason,
			MatchedReasons: v.AuditReasons,
			RuleVersion:    pattern.RuleVersion,
		})
	}
}

func (g *Gate) submit(ctx context.Context, kind effects.Kind, messageID string, payload any) {
	job, err := effects.NewJob(kind, messageID, payload)
	if err != nil {
		log.Printf("[gate] ERROR %v", err)
		return
	}
	if err := g.effects.Submit(ctx, job); err != nil {
		log.Printf("[gate] ERROR side effect %s for message=%s lost: %v", kind, messageID, err)
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (g *Gate) handleHistory(ctx context.Context, job effects.Job) error {
	if g.history == nil {
		return nil
	}
	var p historyJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	return g.history.Append(ctx, p.Key, p.Entry)
}

func (g *Gate) handleConcern(ctx context.Context, job effects.Job) error {
	if g.concerns == nil {
		return errNoStore
	}
	var nc concern.NewConcern
	if err := job.Decode(&nc); err != nil {
		return err
	}
	// A concern without a reviewer is unreachable; retry until the room
	// owner resolves, then park.
	if nc.ReviewerOwnerID == "" {
		owner, err := g.roomOwner(ctx, nc.RoomID)
		if err != nil {
			return fmt.Errorf("gate: resolve reviewer for message=%s: %w", nc.MessageID, err)
		}
		nc.ReviewerOwnerID = owner
	}
	c, created, err := g.concerns.Create(ctx, nc)
	if err != nil {
		return err
	}
	if !created || g.events == nil {
		return nil
	}

	ev, err := effects.NewJob(effects.KindEvent, c.MessageID, protocol.ConcernCreatedMsg{
		Type:            protocol.TypeConcernCreated,
		ConcernID:       c.ID,
		MessageID:       c.MessageID,
		SenderID:        c.SenderID,
		RoomID:          c.RoomID,
		BotID:           c.BotID,
		ReviewerOwnerID: c.ReviewerOwnerID,
		ConcernType:     c.ConcernType,
		SeverityLevel:   c.SeverityLevel,
		CreatedAt:       c.CreatedAt.UnixMilli(),
	})
	if err != nil {
		log.Printf("[gate] ERROR %v", err)
		return nil
	}
	if err := g.effects.Submit(ctx, ev); err != nil {
		log.Printf("[gate] ERROR concern event for message=%s lost: %v", c.MessageID, err)
	}
	return nil
}

func (g *Gate) roomOwner(ctx context.Context, roomID string) (string, error) {
	if g.roster == nil {
		return "", errors.New("no roster configured")
	}
	owner, err := g.roster.RoomOwner(ctx, roomID)
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", roster.ErrUnknownRoom
	}
	return owner, nil
}

func (g *Gate) handleAudit(ctx context.Context, job effects.Job) error {
	if g.audit == nil {
		return errNoStore
	}
	var rec audit.FilteredContentRecord
	if err := job.Decode(&rec); err != nil {
		return err
	}
	return g.audit.RecordFiltered(ctx, rec)
}

func (g *Gate) handleEvent(ctx context.Context, job effects.Job) error {
	if g.events == nil {
		return nil
	}
	var ev protocol.ConcernCreatedMsg
	if err := job.Decode(&ev); err != nil {
		return err
	}
	return g.events.PublishConcernCreated(ctx, ev)
}
