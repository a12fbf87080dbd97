// Package classifier wraps the external model-based moderation classifier.
// Calls are bounded by a hard timeout; a classifier that is slow, down, or
// returns garbage yields a sentinel outcome marked unavailable instead of
// an error, so the caller can route the message to human review.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brightboard/safety-gate/internal/metrics"
)

// UnavailableReason is the RawReason of the sentinel outcome returned when
// the classifier produced no verdict.
const UnavailableReason = "classifier_unavailable"

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 300 * time.Millisecond

// MaxSeverity is the top of the 0..MaxSeverity severity scale.
const MaxSeverity = 5

// ErrUnavailable is returned by Classifier implementations that are not
// configured.
var ErrUnavailable = errors.New("classifier: unavailable")

// Context identifies the message being classified.
type Context struct {
	SenderID  string `json:"sender_id"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// Outcome is a moderation verdict.
type Outcome struct {
	Flagged           bool     `json:"flagged"`
	Categories        []string `json:"categories"`
	Severity          int      `json:"severity"`
	JailbreakDetected bool     `json:"jailbreak_detected"`
	RawReason         string   `json:"raw_reason"`
}

// Availability reports whether a verdict was obtained.
type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
	// Skipped: the message was not sent to the classifier (teacher/system
	// sender, command message).
	Skipped Availability = "skipped"
)

// Classifier is implemented by moderation backends.
type Classifier interface {
	Classify(ctx context.Context, text string, c Context) (Outcome, error)
}

// Guard enforces the timeout around a Classifier and converts failures into
// the unavailable sentinel.
type Guard struct {
	classifier Classifier
	timeout    time.Duration
}

// NewGuard wraps c. A nil c makes every call unavailable; a non-positive
// timeout uses DefaultTimeout.
func NewGuard(c Classifier, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{classifier: c, timeout: timeout}
}

// Timeout returns the per-call deadline.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

type result struct {
	out Outcome
	err error
}

// Classify calls the wrapped classifier and returns within the timeout even
// if the backend ignores context cancellation.
func (g *Guard) Classify(ctx context.Context, text string, c Context) (Outcome, Availability) {
	if g.classifier == nil {
		metrics.ClassifierUnavailable.WithLabelValues("disabled").Inc()
		return unavailable(), Unavailable
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan result, 1)
	go func() {
		out, err := g.classifier.Classify(ctx, text, c)
		ch <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
		metrics.ClassifierUnavailable.WithLabelValues("timeout").Inc()
		return unavailable(), Unavailable
	case r := <-ch:
		metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
		if r.err != nil {
			metrics.ClassifierUnavailable.WithLabelValues("error").Inc()
			return unavailable(), Unavailable
		}
		return normalize(r.out), Available
	}
}

func unavailable() Outcome {
	return Outcome{RawReason: UnavailableReason}
}

// normalize clamps severity, lowercases categories, and marks jailbreak
// attempts as flagged.
func normalize(o Outcome) Outcome {
	if o.Severity < 0 {
		o.Severity = 0
	}
	if o.Severity > MaxSeverity {
		o.Severity = MaxSeverity
	}
	cats := make([]string, 0, len(o.Categories))
	for _, c := range o.Categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			cats = append(cats, c)
		}
	}
	o.Categories = cats
	if o.JailbreakDetected {
		o.Flagged = true
	}
	return o
}

// selfHarmCategories overlap with the crisis detector's domain.
var selfHarmCategories = map[string]bool{
	"self_harm":              true,
	"self-harm":              true,
	"self-harm/intent":       true,
	"self-harm/instructions": true,
	"self_harm_intent":       true,
	"suicide":                true,
	"mental_health":          true,
}

// IsSelfHarmCategory reports whether a moderation category is about
// self-harm or mental health.
func IsSelfHarmCategory(category string) bool {
	return selfHarmCategories[strings.ToLower(category)]
}

// String renders an outcome for logs without the message text.
func (o Outcome) String() string {
	return fmt.Sprintf("flagged=%v severity=%d categories=%v jailbreak=%v",
		o.Flagged, o.Severity, o.Categories, o.JailbreakDetected)
}
