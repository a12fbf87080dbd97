package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type fakeIndex struct {
	crisis map[string]bool
	err    error
}

func (f *fakeIndex) HasCrisisConcern(_ context.Context, messageID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.crisis[messageID], nil
}

func record(messageID, reason string) FilteredContentRecord {
	return FilteredContentRecord{
		MessageID:      messageID,
		SenderID:       "student-1",
		RoomID:         "room-1",
		TruncatedText:  "My phone is 555-123-4567",
		Reason:         reason,
		MatchedReasons: []string{reason},
	}
}

func TestRecordFiltered_Writes(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil)
	ctx := context.Background()

	if err := l.RecordFiltered(ctx, record("m1", "phone_number")); err != nil {
		t.Fatalf("RecordFiltered() error: %v", err)
	}
	recs, err := l.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(recs))
	}
	got := recs[0]
	if got.ID != RecordID("m1", "phone_number") {
		t.Errorf("ID = %q, want deterministic id", got.ID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestRecordFiltered_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.RecordFiltered(ctx, record("m1", "phone_number")); err != nil {
				t.Errorf("RecordFiltered() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := l.RecordFiltered(ctx, record("m1", "email_address")); err != nil {
		t.Fatalf("RecordFiltered() error: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("store has %d records, want 2 (one per reason)", store.Len())
	}
}

func TestRecordFiltered_RefusesCrisis(t *testing.T) {
	ctx := context.Background()

	t.Run("flag", func(t *testing.T) {
		store := NewMemoryStore()
		rec := record("m1", "self_harm_language")
		rec.CrisisConcern = true
		if err := NewLogger(store, nil).RecordFiltered(ctx, rec); err != nil {
			t.Fatalf("RecordFiltered() error: %v, want nil no-op", err)
		}
		if store.Len() != 0 {
			t.Errorf("crisis record was stored")
		}
	})

	t.Run("index", func(t *testing.T) {
		store := NewMemoryStore()
		idx := &fakeIndex{crisis: map[string]bool{"m2": true}}
		if err := NewLogger(store, idx).RecordFiltered(ctx, record("m2", "phone_number")); err != nil {
			t.Fatalf("RecordFiltered() error: %v", err)
		}
		if store.Len() != 0 {
			t.Errorf("record for message with crisis concern was stored")
		}
	})

	t.Run("index error", func(t *testing.T) {
		store := NewMemoryStore()
		idx := &fakeIndex{err: errors.New("db down")}
		if err := NewLogger(store, idx).RecordFiltered(ctx, record("m3", "phone_number")); err == nil {
			t.Fatal("expected error when the crisis index cannot be read")
		}
		if store.Len() != 0 {
			t.Errorf("record stored without a crisis check")
		}
	})
}

func TestRecordFiltered_Invalid(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil)
	for _, rec := range []FilteredContentRecord{
		record("", "phone_number"),
		record("m1", ""),
	} {
		if err := l.RecordFiltered(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("RecordFiltered(%+v) = %v, want ErrInvalidRecord", rec, err)
		}
	}
}

func TestRecordFiltered_Truncates(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil)
	rec := record("m1", "phone_number")
	rec.TruncatedText = strings.Repeat("é", MaxTextRunes+50)

	if err := l.RecordFiltered(context.Background(), rec); err != nil {
		t.Fatalf("RecordFiltered() error: %v", err)
	}
	recs, _ := store.List(context.Background(), Query{})
	if n := utf8.RuneCountInString(recs[0].TruncatedText); n != MaxTextRunes {
		t.Errorf("stored text has %d runes, want %d", n, MaxTextRunes)
	}
	if !utf8.ValidString(recs[0].TruncatedText) {
		t.Error("truncation split a multi-byte character")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"short", 5},
		{strings.Repeat("a", MaxTextRunes), MaxTextRunes},
		{strings.Repeat("a", MaxTextRunes+1), MaxTextRunes},
		{strings.Repeat("日本", MaxTextRunes), MaxTextRunes},
	}
	for _, tt := range tests {
		if got := utf8.RuneCountInString(Truncate(tt.in)); got != tt.want {
			t.Errorf("Truncate(len %d) has %d runes, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestMemoryStore_ListPaging(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		rec := record(id, "phone_number")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := l.RecordFiltered(ctx, rec); err != nil {
			t.Fatalf("RecordFiltered() error: %v", err)
		}
	}

	page1, _ := l.List(ctx, Query{Limit: 2})
	if len(page1) != 2 || page1[0].MessageID != "m1" || page1[1].MessageID != "m2" {
		t.Fatalf("page1 = %v", ids(page1))
	}
	page2, _ := l.List(ctx, Query{Limit: 2, AfterID: page1[1].ID})
	if len(page2) != 2 || page2[0].MessageID != "m3" {
		t.Fatalf("page2 = %v", ids(page2))
	}

	since, _ := l.List(ctx, Query{Since: base.Add(3 * time.Minute)})
	if len(since) != 2 || since[0].MessageID != "m4" {
		t.Errorf("since = %v, want [m4 m5]", ids(since))
	}
}

func ids(recs []FilteredContentRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.MessageID
	}
	return out
}
