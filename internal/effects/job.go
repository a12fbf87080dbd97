// Package effects runs the gate's side effects (concern creation, audit
// records, history appends, concern events) off the decision path. Jobs are
// retried with exponential backoff; jobs that still fail, or that arrive
// while the queue is full, are parked in a dead-letter list and redriven on
// a schedule. No job is dropped.
package effects

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a side effect.
type Kind string

const (
	KindConcern Kind = "concern"
	KindAudit   Kind = "audit"
	KindHistory Kind = "history"
	KindEvent   Kind = "event"
)

// Job is one side effect. Payload is the JSON encoding of the kind's input
// so that jobs survive a trip through the dead-letter list.
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	MessageID  string          `json:"message_id"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	Redrives   int             `json:"redrives"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`

	// claim identifies the dead-letter entry a redriven job came from.
	claim string
}

// NewJob encodes payload into a job of the given kind.
func NewJob(kind Kind, messageID string, payload any) (Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("effects: encode %s payload: %w", kind, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		MessageID:  messageID,
		Payload:    b,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("effects: decode %s payload: %w", j.Kind, err)
	}
	return nil
}
