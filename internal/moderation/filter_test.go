package moderation

import (
	"strings"
	"testing"
	"time"

	"github.com/brightboard/safety-gate/internal/rules"
)

func newTestFilter() *PatternFilter {
	return NewPatternFilter(rules.NewHolder(rules.Default()))
}

func hasReason(reasons []rules.ReasonCode, want rules.ReasonCode) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestEvaluate_PhoneNumberRedacted(t *testing.T) {
	f := newTestFilter()

	out := f.Evaluate("My phone is 555-123-4567", true, false)
	if !out.Blocked {
		t.Fatal("expected phone number to block")
	}
	if !hasReason(out.MatchedReasons, rules.ReasonPhone) {
		t.Errorf("MatchedReasons = %v, want %s", out.MatchedReasons, rules.ReasonPhone)
	}
	if out.RedactedText != "My phone is [PHONE REMOVED]" {
		t.Errorf("RedactedText = %q", out.RedactedText)
	}
}

func TestEvaluate_Families(t *testing.T) {
	f := newTestFilter()

	tests := []struct {
		name     string
		input    string
		minor    bool
		reason   rules.ReasonCode
		redacted string
	}{
		{"parenthesized phone", "call (555) 123-4567 ok", false, rules.ReasonPhone, "call [PHONE REMOVED] ok"},
		{"intl phone", "+1-555-123-4567", false, rules.ReasonPhone, "[PHONE REMOVED]"},
		{"email", "email me at kid@example.com", false, rules.ReasonEmail, "email me at [EMAIL REMOVED]"},
		{"street address", "I live at 42 Maple Street", false, rules.ReasonAddress, "I live at [ADDRESS REMOVED]"},
		{"school name", "I go to Lincoln Middle School", false, rules.ReasonSchoolName, "[SCHOOL REMOVED]"},
		{"credentials", "My password is hunter2", false, rules.ReasonCredentials, "My [CREDENTIALS REMOVED]"},
		{"birthdate", "my birthday is March 3rd", false, rules.ReasonBirthdate, "[BIRTHDATE REMOVED]"},
		{"full name", "my real name is Jamie Lee", false, rules.ReasonFullName, "[NAME REMOVED]"},
		{"contact request", "add me on roblox", false, rules.ReasonExternalContact, "[CONTACT REQUEST REMOVED]"},
		{"platform for minor", "do you use discord?", true, rules.ReasonExternalPlatform, "do you use [PLATFORM REMOVED]?"},
		{"threat", "I'm going to kill you", false, rules.ReasonViolence, "[VIOLENCE REMOVED]"},
		{"weapon to school", "we should bring a gun to school", false, rules.ReasonViolence, "we should [VIOLENCE REMOVED]"},
		{"self-directed", "I want to kill myself", false, rules.ReasonSelfHarmLanguage, "I want to [SENSITIVE CONTENT]"},
		{"sexual slang", "you are so sexy", false, rules.ReasonSexualContent, "you are so [INAPPROPRIATE CONTENT REMOVED]"},
		{"explicit", "send me nudes", false, rules.ReasonSexualContent, "[INAPPROPRIATE CONTENT REMOVED]"},
		{"link for minor", "look at https://evil.com/x", true, rules.ReasonExternalLink, "look at [LINK REMOVED]"},
		{"bare link for minor", "go to evil.com/free now", true, rules.ReasonExternalLink, "go to [LINK REMOVED] now"},
		{"base64 image", "data:image/png;base64,iVBORw0KGgo=", false, rules.ReasonEmbeddedImage, "[IMAGE REMOVED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.Evaluate(tt.input, tt.minor, false)
			if !out.Blocked {
				t.Fatalf("Evaluate(%q).Blocked = false, want true", tt.input)
			}
			if !hasReason(out.MatchedReasons, tt.reason) {
				t.Errorf("Evaluate(%q).MatchedReasons = %v, want %s", tt.input, out.MatchedReasons, tt.reason)
			}
			if out.RedactedText != tt.redacted {
				t.Errorf("Evaluate(%q).RedactedText = %q, want %q", tt.input, out.RedactedText, tt.redacted)
			}
		})
	}
}

func TestEvaluate_CleanMessages(t *testing.T) {
	f := newTestFilter()

	clean := []string{
		"What is photosynthesis?",
		"Can you help me with fractions like 3/4?",
		"I killed it on my spelling test today!",
		"The war ended in 1945.",
		"How many legs does a spider have",
		"I am going to study for my history exam",
		"Pi is about 3.14159",
		"Read https://en.wikipedia.org/wiki/Cell_(biology) for more",
	}

	for _, msg := range clean {
		t.Run(msg, func(t *testing.T) {
			out := f.Evaluate(msg, true, false)
			if out.Blocked {
				t.Errorf("Evaluate(%q) blocked with %v", msg, out.MatchedReasons)
			}
			if out.RedactedText != msg {
				t.Errorf("clean message was modified: %q", out.RedactedText)
			}
		})
	}
}

func TestEvaluate_MinorsOnlyRules(t *testing.T) {
	f := newTestFilter()

	tests := []struct {
		name    string
		input   string
		minor   bool
		strict  bool
		blocked bool
	}{
		{"platform minor", "do you use discord?", true, false, true},
		{"platform adult", "do you use discord?", false, false, false},
		{"platform adult strict room", "do you use discord?", false, true, true},
		{"link minor", "see https://evil.com/x", true, false, true},
		{"link adult", "see https://evil.com/x", false, false, false},
		{"link adult strict room", "see https://evil.com/x", false, true, true},
		{"allowlisted link minor", "see https://www.khanacademy.org/math", true, false, false},
		{"edu domain minor", "see https://biology.mit.edu/cells", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.Evaluate(tt.input, tt.minor, tt.strict)
			if out.Blocked != tt.blocked {
				t.Errorf("Evaluate(%q, minor=%v, strict=%v).Blocked = %v, want %v",
					tt.input, tt.minor, tt.strict, out.Blocked, tt.blocked)
			}
		})
	}
}

func TestEvaluate_EducationalContext(t *testing.T) {
	f := newTestFilter()

	tests := []struct {
		name        string
		input       string
		blocked     bool
		educational bool
	}{
		{"biology homework", "Can you explain the human reproductive system for my biology homework?", false, true},
		{"anatomy plus task", "what organs are in the reproductive system? its for a worksheet", false, true},
		{"anatomy alone", "tell me about the reproductive system", true, false},
		{"slang with framing", "for my biology homework, what does horny mean", true, true},
		{"explicit with framing", "my health class teacher showed porn", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.Evaluate(tt.input, true, false)
			if out.Blocked != tt.blocked {
				t.Errorf("Evaluate(%q).Blocked = %v, want %v (reasons %v)", tt.input, out.Blocked, tt.blocked, out.MatchedReasons)
			}
			if out.Educational != tt.educational {
				t.Errorf("Evaluate(%q).Educational = %v, want %v", tt.input, out.Educational, tt.educational)
			}
		})
	}
}

func TestEvaluate_CommandBypass(t *testing.T) {
	f := newTestFilter()

	out := f.Evaluate("/assess 555-123-4567 send me nudes", true, true)
	if out.Blocked {
		t.Errorf("command message blocked with %v", out.MatchedReasons)
	}
	if !out.Command {
		t.Error("expected Command = true")
	}
	if out.RedactedText != "/assess 555-123-4567 send me nudes" {
		t.Errorf("command text modified: %q", out.RedactedText)
	}

	// The token must lead the message.
	out = f.Evaluate("please /assess 555-123-4567", true, false)
	if !out.Blocked || out.Command {
		t.Errorf("non-leading token bypassed filtering: blocked=%v command=%v", out.Blocked, out.Command)
	}
}

func TestEvaluate_Empty(t *testing.T) {
	f := newTestFilter()
	for _, in := range []string{"", "   "} {
		out := f.Evaluate(in, true, true)
		if out.Blocked || len(out.MatchedReasons) != 0 {
			t.Errorf("Evaluate(%q) = %+v, want not blocked", in, out)
		}
	}
}

func TestEvaluate_MultipleReasonsAccumulate(t *testing.T) {
	f := newTestFilter()

	out := f.Evaluate("text me at 555-123-4567 or kid@example.com, add me on snapchat", true, false)
	for _, want := range []rules.ReasonCode{rules.ReasonPhone, rules.ReasonEmail, rules.ReasonExternalContact, rules.ReasonExternalPlatform} {
		if !hasReason(out.MatchedReasons, want) {
			t.Errorf("MatchedReasons = %v, missing %s", out.MatchedReasons, want)
		}
	}
	// Reasons come out in family order: PII before contact.
	if out.MatchedReasons[0].Family() != rules.FamilyPII {
		t.Errorf("first reason %s is not PII", out.MatchedReasons[0])
	}
}

func TestEvaluate_RedactionNeverDeletes(t *testing.T) {
	f := newTestFilter()

	inputs := []string{
		"My phone is 555-123-4567",
		"add me on snapchat",
		"555-123-4567",
		"I want to kill myself",
		"data:image/png;base64,AAAA",
		"bring a knife to school and text me at 555.123.4567",
	}
	for _, in := range inputs {
		out := f.Evaluate(in, true, false)
		if !out.Blocked {
			t.Fatalf("Evaluate(%q) not blocked", in)
		}
		if out.RedactedText == "" {
			t.Errorf("Evaluate(%q) redacted to empty string", in)
		}
		first := out.Matches[0]
		for _, m := range out.Matches[1:] {
			if m.Start < first.Start {
				first = m
			}
		}
		if !strings.Contains(out.RedactedText, first.placeholder) {
			t.Errorf("Evaluate(%q) redacted text %q missing placeholder %q", in, out.RedactedText, first.placeholder)
		}
		for _, m := range out.Matches {
			if strings.Contains(out.RedactedText, in[m.Start:m.End]) {
				t.Errorf("Evaluate(%q) redacted text still contains %q", in, in[m.Start:m.End])
			}
		}
	}
}

func TestRedact_OverlappingSpans(t *testing.T) {
	text := "add me on snapchat please"
	matches := []Match{
		{Start: 0, End: 18, placeholder: "[A]"},
		{Start: 10, End: 18, placeholder: "[B]"},
	}
	if got := redact(text, matches); got != "[A] please" {
		t.Errorf("redact() = %q, want %q", got, "[A] please")
	}

	matches = []Match{
		{Start: 4, End: 9, placeholder: "[X]"},
		{Start: 0, End: 6, placeholder: "[Y]"},
	}
	if got := redact("abcdefghijkl", matches); got != "[Y]jkl" {
		t.Errorf("redact() = %q, want %q", got, "[Y]jkl")
	}
}

func TestEvaluate_HotSwapUsesNewRules(t *testing.T) {
	h := rules.NewHolder(rules.Default())
	f := NewPatternFilter(h)

	if out := f.Evaluate("pineapple pizza", false, false); out.Blocked {
		t.Fatal("unexpected block before swap")
	}
	rs, err := rules.Load(strings.NewReader(`
version: test
rules:
  - {id: pii.fruit, family: pii, reason: phone_number, pattern: '(?i)pineapple'}
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	h.Store(rs)
	out := f.Evaluate("pineapple pizza", false, false)
	if !out.Blocked || out.RuleVersion != "test" {
		t.Errorf("after swap: blocked=%v version=%q", out.Blocked, out.RuleVersion)
	}
}

// BenchmarkEvaluate measures filter cost for an ordinary message.
func BenchmarkEvaluate(b *testing.B) {
	f := newTestFilter()
	msg := "Can you help me understand how volcanoes form? My teacher said it has to do with plates moving."

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Evaluate(msg, true, false)
	}
}

// BenchmarkEvaluate_Blocked measures cost when several rules hit.
func BenchmarkEvaluate_Blocked(b *testing.B) {
	f := newTestFilter()
	msg := "text me at 555-123-4567 or add me on snapchat, my address is 42 Maple Street"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Evaluate(msg, true, false)
	}
}

// TestPerformance keeps the deterministic checks well inside the gate's
// latency budget.
func TestPerformance(t *testing.T) {
	f := newTestFilter()
	d := NewCrisisDetector(rules.NewHolder(rules.Default()))
	msg := strings.Repeat("Can you help me understand how volcanoes form? ", 10)

	const iterations = 500
	start := time.Now()
	for i := 0; i < iterations; i++ {
		f.Evaluate(msg, true, false)
		d.Check(msg)
	}
	avgNs := time.Since(start).Nanoseconds() / iterations
	avgUs := float64(avgNs) / 1000.0

	t.Logf("average Evaluate+Check latency: %.2f µs", avgUs)

	maxNs := int64(2_000_000)
	if raceDetectorEnabled {
		maxNs = 20_000_000
	}
	if avgNs > maxNs {
		t.Errorf("latency %.2f µs exceeds %d µs limit", avgUs, maxNs/1000)
	}
}
