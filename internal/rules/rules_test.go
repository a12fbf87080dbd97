package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultRuleSet(t *testing.T) {
	rs := Default()
	if rs.Version == "" {
		t.Fatal("default rule set has no version")
	}
	if len(rs.Rules) == 0 {
		t.Fatal("default rule set has no rules")
	}
	if len(rs.Crisis) == 0 {
		t.Fatal("default rule set has no crisis lists")
	}

	// Rules must come out in family order.
	last := -1
	for _, r := range rs.Rules {
		rank := r.Family.Rank()
		if rank < last {
			t.Fatalf("rule %s (family %s) out of order", r.ID, r.Family)
		}
		last = rank
		if r.Placeholder == "" {
			t.Errorf("rule %s has no placeholder", r.ID)
		}
	}

	phone, ok := rs.Rule("pii.phone")
	if !ok {
		t.Fatal("pii.phone missing")
	}
	if phone.Placeholder != "[PHONE REMOVED]" {
		t.Errorf("phone placeholder = %q, want %q", phone.Placeholder, "[PHONE REMOVED]")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", "rules: []\n"},
		{"bad regex", "version: x\nrules:\n  - id: a\n    family: pii\n    reason: phone_number\n    pattern: '(['\n"},
		{"unknown family", "version: x\nrules:\n  - id: a\n    family: gossip\n    reason: phone_number\n    pattern: 'a'\n"},
		{"unknown reason", "version: x\nrules:\n  - id: a\n    family: pii\n    reason: shoe_size\n    pattern: 'a'\n"},
		{"duplicate id", "version: x\nrules:\n  - {id: a, family: pii, reason: phone_number, pattern: 'a'}\n  - {id: a, family: pii, reason: phone_number, pattern: 'b'}\n"},
		{"empty pattern", "version: x\nrules:\n  - {id: a, family: pii, reason: phone_number, pattern: ''}\n"},
		{"unknown kind", "version: x\nrules:\n  - {id: a, family: pii, reason: phone_number, kind: fuzzy, pattern: 'a'}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("Load() error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	src := "version: x\nrules:\n  - {id: a, family: pii, reason: phone_number, pattern: 'a', skip_if_educatonal: true}\n"
	if _, err := Load(strings.NewReader(src)); err == nil {
		t.Fatal("expected error for misspelled rule flag")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"I Don't want to LIVE!!", "i dont want to live"},
		{"  can’t   take it... anymore ", "cant take it anymore"},
		{"self-harm", "self harm"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainsPhrase(t *testing.T) {
	text := Normalize("Honestly I want to die lol")
	if !ContainsPhrase(text, "want to die") {
		t.Error("expected phrase match")
	}
	if ContainsPhrase(Normalize("studied"), "die") {
		t.Error("phrase must match whole words only")
	}
}

func TestDomainAllowed(t *testing.T) {
	rs := Default()
	tests := []struct {
		host string
		want bool
	}{
		{"en.wikipedia.org", true},
		{"wikipedia.org", true},
		{"www.KhanAcademy.org", true},
		{"mit.edu", true},
		{"notwikipedia.org", false},
		{"evil.com", false},
	}
	for _, tt := range tests {
		if got := rs.DomainAllowed(tt.host); got != tt.want {
			t.Errorf("DomainAllowed(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	pii := UserMessage("en", []ReasonCode{ReasonSexualContent, ReasonPhone})
	if !strings.Contains(pii, "personal information") {
		t.Errorf("expected PII message to win by family order, got %q", pii)
	}
	if got := UserMessage("en", nil); got != GenericMessage("en") {
		t.Errorf("no reasons should yield generic message, got %q", got)
	}
	if got := UserMessage("es-MX", []ReasonCode{ReasonPhone}); !strings.Contains(got, "información personal") {
		t.Errorf("expected Spanish message, got %q", got)
	}
	if got := UserMessage("fr", []ReasonCode{ReasonPhone}); got != UserMessage("en", []ReasonCode{ReasonPhone}) {
		t.Errorf("unknown locale should fall back to English, got %q", got)
	}
	for _, r := range []ReasonCode{ReasonPhone, ReasonViolence, ReasonExternalLink} {
		msg := UserMessage("en", []ReasonCode{r})
		if strings.Contains(msg, string(r)) {
			t.Errorf("user message leaks reason code %q: %q", r, msg)
		}
	}
}

func TestReasonMetadata(t *testing.T) {
	if ReasonPhone.Label() != "phone number" {
		t.Errorf("Label() = %q", ReasonPhone.Label())
	}
	if ReasonSelfHarmLanguage.Family() != FamilyViolence {
		t.Errorf("self-harm language family = %s", ReasonSelfHarmLanguage.Family())
	}
	if !FamilySexual.Escalates() || !FamilyViolence.Escalates() || FamilyPII.Escalates() {
		t.Error("only violence and sexual families escalate")
	}
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(Default())
	next, err := Load(strings.NewReader("version: v2\nrules: []\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	h.Store(next)
	if h.Load().Version != "v2" {
		t.Errorf("Version = %q, want v2", h.Load().Version)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("version: v1\nrules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	h := NewHolder(rs)

	w := NewWatcher(path, h)
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// A broken file must not replace the active set.
	if err := os.WriteFile(path, []byte("version: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if h.Load().Version != "v1" {
		t.Fatalf("broken reload replaced rule set: version %q", h.Load().Version)
	}

	if err := os.WriteFile(path, []byte("version: v2\nrules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for h.Load().Version != "v2" {
		if time.Now().After(deadline) {
			t.Fatalf("rule set not reloaded, version %q", h.Load().Version)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}
