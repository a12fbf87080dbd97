package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/brightboard/safety-gate/internal/decision"
	"github.com/brightboard/safety-gate/internal/message"
)

// sample is one corpus entry. expected is only set for categories whose
// outcome comes from the pattern rules alone; classifier-dependent entries
// leave it empty.
type sample struct {
	category string
	text     string
	expected decision.Action
}

var corpus = []sample{
	{"clean", "Can you help me with my fractions homework?", ""},
	{"clean", "What is the capital of Australia?", ""},
	{"clean", "I finished the reading for chapter three", ""},
	{"educational", "Can you explain the human reproductive system for my biology homework", ""},
	{"educational", "Why did the first world war start?", ""},
	{"pii", "My phone is 555-123-4567", decision.Block},
	{"pii", "email me at kid.student@example.com", decision.Block},
	{"crisis", "I want to kill myself", decision.AllowAndEscalate},
	{"violence", "we should bring a gun to school", decision.BlockAndEscalate},
}

// pick returns a corpus entry, restricted to categories when non-empty.
func pick(rng *rand.Rand, categories map[string]bool) sample {
	for {
		s := corpus[rng.Intn(len(corpus))]
		if len(categories) == 0 || categories[s.category] {
			return s
		}
	}
}

// newInbound builds a student message for worker w. Every message gets a
// fresh id so the gate never answers from its idempotency record.
func newInbound(s sample, room string, w int) message.Inbound {
	return message.Inbound{
		MessageID:  uuid.NewString(),
		Text:       s.text,
		SenderID:   fmt.Sprintf("loadtest-student-%d", w),
		SenderRole: message.RoleStudent,
		RoomID:     room,
		BotID:      "loadtest-bot",
		Timestamp:  time.Now().UTC(),
	}
}
