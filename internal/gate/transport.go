package gate

import (
	"context"
	"log"
	"time"

	"github.com/brightboard/safety-gate/internal/protocol"
	"github.com/brightboard/safety-gate/internal/rules"
)

// RequestTimeout bounds one request handled by HandleRequest.
const RequestTimeout = 2 * time.Second

// HandleRequest serves one encoded pipeline request and returns the encoded
// reply. It is the handler behind the safety.evaluate subject.
func (g *Gate) HandleRequest(data []byte) []byte {
	msgType, msg, err := protocol.ParseRequest(data)
	if err != nil {
		log.Printf("[gate] bad request type=%q: %v", msgType, err)
		return protocol.NewError(protocol.CodeInvalidRequest, "malformed request", "")
	}

	switch m := msg.(type) {
	case protocol.PingMsg:
		out, _ := protocol.Encode(protocol.TypePong, protocol.PongMsg{})
		return out
	case protocol.EvaluateMsg:
		ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
		defer cancel()

		d, err := g.Evaluate(ctx, m.Inbound)
		if err != nil {
			return protocol.NewError(protocol.CodeInvalidMessage, err.Error(), m.MessageID)
		}
		out, err := protocol.Encode(protocol.TypeDecision, DecisionMessage(d))
		if err != nil {
			log.Printf("[gate] ERROR encode decision message=%s: %v", m.MessageID, err)
			return protocol.NewError(protocol.CodeInternal, "internal error", m.MessageID)
		}
		return out
	}
	return protocol.NewError(protocol.CodeInvalidRequest, "unsupported request", "")
}

// DecisionMessage converts a Decision to its wire form.
func DecisionMessage(d Decision) protocol.DecisionMsg {
	return protocol.DecisionMsg{
		Type:              protocol.TypeDecision,
		MessageID:         d.MessageID,
		Action:            string(d.Action),
		Text:              d.Text,
		UserFacingMessage: d.UserFacingMessage,
		ConcernID:         d.ConcernID,
		Reasons:           reasonStrings(d.Reasons),
		RuleVersion:       d.RuleVersion,
	}
}

func reasonStrings(rs []rules.ReasonCode) []string {
	if len(rs) == 0 {
		return nil
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
