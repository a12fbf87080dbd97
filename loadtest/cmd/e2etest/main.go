// Package main implements a standalone end-to-end test for the safety gate.
// It runs against a live deployment: health and metrics, ping over NATS,
// the four reference decisions, idempotent redelivery, rejected input and
// the concern-created event stream.
//
// Usage:
//
//	go run ./loadtest/cmd/e2etest/ [-nats nats://localhost:4222] [-api http://localhost:8080] [-classifier] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/brightboard/safety-gate/internal/decision"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/moderation"
	"github.com/brightboard/safety-gate/internal/protocol"
	"github.com/brightboard/safety-gate/internal/rules"
	"github.com/brightboard/safety-gate/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// run carries what every scenario needs.
type run struct {
	c          *client.Client
	room       string
	classifier bool
	concerns   <-chan protocol.ConcernCreatedMsg
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	apiBase := flag.String("api", "http://localhost:8080", "Gate HTTP base URL (health and metrics)")
	room := flag.String("room", "e2e-room", "Room id used for test messages")
	classifier := flag.Bool("classifier", false, "The gate has a moderation classifier configured")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Safety Gate E2E Test ===")
	fmt.Printf("NATS: %s\n\n", *natsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult
	results = append(results, scenario1HealthCheck(ctx, *apiBase))

	c, err := client.New(*natsURL, "safetygate-e2etest")
	if err != nil {
		results = append(results, scenarioResult{"Scenario 2: Ping", resultFail, fmt.Sprintf("connect: %v", err)})
		summarize(results)
		return
	}
	defer c.Close()

	concerns, err := c.WatchConcerns()
	if err != nil {
		fmt.Printf("concern events unavailable: %v\n", err)
	}
	r := &run{c: c, room: *room, classifier: *classifier, concerns: concerns}

	results = append(results, scenario2Ping(ctx, r))
	results = append(results, scenarioAPersonalInfo(ctx, r))
	sb, event := scenarioBCrisis(ctx, r)
	results = append(results, sb, event)
	results = append(results, scenarioCEducational(ctx, r))
	results = append(results, scenarioDFallback(ctx, r))
	results = append(results, scenarioIdempotent(ctx, r))
	results = append(results, scenarioInvalidInput(ctx, r))

	summarize(results)
}

func summarize(results []scenarioResult) {
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: Health Check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	name := "Scenario 1: Health Check"
	hc := resty.New().SetTimeout(5 * time.Second)

	if _, err := httpGet(ctx, hc, apiBase+"/health"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}

	body, err := httpGet(ctx, hc, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(body, "safetygate_ruleset_info") {
		return scenarioResult{name, resultFail, "/metrics: missing safetygate_ruleset_info"}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 2: Ping
// ---------------------------------------------------------------------------

func scenario2Ping(ctx context.Context, r *run) scenarioResult {
	name := "Scenario 2: Ping"

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	d, err := r.c.Ping(pingCtx)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("rtt=%s", d.Round(time.Microsecond))}
}

// ---------------------------------------------------------------------------
// Scenario A: personal information is blocked
// ---------------------------------------------------------------------------

func scenarioAPersonalInfo(ctx context.Context, r *run) scenarioResult {
	name := "Scenario A: Phone Number Blocked"

	d, res := r.evaluate(ctx, name, "My phone is 555-123-4567")
	if d == nil {
		return res
	}
	if d.Action != string(decision.Block) {
		return scenarioResult{name, resultFail, fmt.Sprintf("action=%s, want %s", d.Action, decision.Block)}
	}
	if !slices.Contains(d.Reasons, string(rules.ReasonPhone)) {
		return scenarioResult{name, resultFail, fmt.Sprintf("reasons=%v, missing %s", d.Reasons, rules.ReasonPhone)}
	}
	if d.Text != "" {
		return scenarioResult{name, resultFail, "blocked decision forwarded text"}
	}
	if d.UserFacingMessage == "" {
		return scenarioResult{name, resultFail, "no user-facing message"}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("rules=%s", d.RuleVersion)}
}

// ---------------------------------------------------------------------------
// Scenario B: crisis language escalates
// ---------------------------------------------------------------------------

func scenarioBCrisis(ctx context.Context, r *run) (scenarioResult, scenarioResult) {
	name := "Scenario B: Crisis Escalated"
	eventName := "Scenario B: Concern Event"

	d, res := r.evaluate(ctx, name, "I want to kill myself")
	if d == nil {
		return res, scenarioResult{eventName, resultInfo, "skipped"}
	}
	if d.Action != string(decision.AllowAndEscalate) {
		return scenarioResult{name, resultFail, fmt.Sprintf("action=%s, want %s", d.Action, decision.AllowAndEscalate)},
			scenarioResult{eventName, resultInfo, "skipped"}
	}
	if d.ConcernID == "" {
		return scenarioResult{name, resultFail, "no concern id"}, scenarioResult{eventName, resultInfo, "skipped"}
	}
	ok := scenarioResult{name, resultPass, fmt.Sprintf("concern=%s", truncateID(d.ConcernID))}

	// Event delivery depends on the side-effect workers and a known room.
	if r.concerns == nil {
		return ok, scenarioResult{eventName, resultInfo, "not subscribed"}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-r.concerns:
			if ev.ConcernID != d.ConcernID {
				continue
			}
			if ev.ConcernType != moderation.ConcernSelfHarm {
				return ok, scenarioResult{eventName, resultFail, fmt.Sprintf("concern_type=%s", ev.ConcernType)}
			}
			return ok, scenarioResult{eventName, resultPass, fmt.Sprintf("severity=%s", ev.SeverityLevel)}
		case <-waitCtx.Done():
			return ok, scenarioResult{eventName, resultInfo, "no concern.created event within 5s"}
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario C: educational context is allowed
// ---------------------------------------------------------------------------

func scenarioCEducational(ctx context.Context, r *run) scenarioResult {
	name := "Scenario C: Educational Allowed"

	d, res := r.evaluate(ctx, name, "Can you explain the human reproductive system for my biology homework")
	if d == nil {
		return res
	}
	if d.Action == string(decision.Allow) {
		return scenarioResult{name, resultPass, ""}
	}
	if !r.classifier && d.Action == string(decision.AllowAndEscalate) {
		return scenarioResult{name, resultInfo, "no classifier: forwarded for review"}
	}
	return scenarioResult{name, resultFail, fmt.Sprintf("action=%s, want %s", d.Action, decision.Allow)}
}

// ---------------------------------------------------------------------------
// Scenario D: no clean allow without a classifier verdict
// ---------------------------------------------------------------------------

func scenarioDFallback(ctx context.Context, r *run) scenarioResult {
	name := "Scenario D: Classifier Fallback"

	d, res := r.evaluate(ctx, name, "that movie was kind of wild")
	if d == nil {
		return res
	}
	if r.classifier {
		// The classifier answered; a timeout cannot be forced from here.
		return scenarioResult{name, resultInfo, fmt.Sprintf("classifier configured, action=%s", d.Action)}
	}
	if d.Action != string(decision.AllowAndEscalate) {
		return scenarioResult{name, resultFail, fmt.Sprintf("action=%s, want %s", d.Action, decision.AllowAndEscalate)}
	}
	if d.Text == "" {
		return scenarioResult{name, resultFail, "fallback withheld the message"}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("concern=%s", truncateID(d.ConcernID))}
}

// ---------------------------------------------------------------------------
// Redelivery and rejected input
// ---------------------------------------------------------------------------

func scenarioIdempotent(ctx context.Context, r *run) scenarioResult {
	name := "Scenario E: Redelivery Is Idempotent"

	m := r.inbound("we should bring a gun to school")
	first, err := r.send(ctx, m)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	second, err := r.send(ctx, m)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if first.Decision == nil || second.Decision == nil {
		return scenarioResult{name, resultFail, "missing decision"}
	}
	if first.Decision.Action != second.Decision.Action || first.Decision.ConcernID != second.Decision.ConcernID {
		return scenarioResult{name, resultFail, fmt.Sprintf("first=%s/%s second=%s/%s",
			first.Decision.Action, first.Decision.ConcernID, second.Decision.Action, second.Decision.ConcernID)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("action=%s", first.Decision.Action)}
}

func scenarioInvalidInput(ctx context.Context, r *run) scenarioResult {
	name := "Scenario F: Invalid Input Rejected"

	m := r.inbound("hello")
	m.SenderRole = "parent"
	reply, err := r.send(ctx, m)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if reply.Error == nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("got decision %s", reply.Decision.Action)}
	}
	if reply.Error.Code != protocol.CodeInvalidMessage {
		return scenarioResult{name, resultFail, fmt.Sprintf("code=%s, want %s", reply.Error.Code, protocol.CodeInvalidMessage)}
	}
	return scenarioResult{name, resultPass, reply.Error.Message}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (r *run) inbound(text string) message.Inbound {
	return message.Inbound{
		MessageID:  uuid.NewString(),
		Text:       text,
		SenderID:   "e2e-student",
		SenderRole: message.RoleStudent,
		RoomID:     r.room,
		BotID:      "e2e-bot",
		Timestamp:  time.Now().UTC(),
	}
}

func (r *run) send(ctx context.Context, m message.Inbound) (client.Reply, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.c.Evaluate(reqCtx, m)
}

// evaluate sends text as a fresh student message. On failure it returns a
// nil decision and the failing result for scenario name.
func (r *run) evaluate(ctx context.Context, name, text string) (*protocol.DecisionMsg, scenarioResult) {
	reply, err := r.send(ctx, r.inbound(text))
	if err != nil {
		return nil, scenarioResult{name, resultFail, err.Error()}
	}
	if reply.Error != nil {
		return nil, scenarioResult{name, resultFail, fmt.Sprintf("%s: %s", reply.Error.Code, reply.Error.Message)}
	}
	return reply.Decision, scenarioResult{}
}

// httpGet performs a GET, expects 200 and returns the body.
func httpGet(ctx context.Context, c *resty.Client, url string) (string, error) {
	resp, err := c.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("GET %s: status %d", url, resp.StatusCode())
	}
	return resp.String(), nil
}

// truncateID returns the first 8 characters of an ID for display purposes.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
