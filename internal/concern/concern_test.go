package concern

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brightboard/safety-gate/internal/history"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/roster"
)

type fixture struct {
	queue   *Queue
	dir     *roster.StaticDirectory
	store   *MemoryStore
	history *history.MemoryStore
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := roster.NewStaticDirectory()
	dir.SetRoom("room-1", "teacher-1", false)
	dir.AddMember("room-1", "student-1", roster.Profile{Role: message.RoleStudent, IsMinor: true})
	dir.AddMember("room-1", "student-2", roster.Profile{Role: message.RoleStudent, IsMinor: true})
	dir.SetRoom("room-2", "teacher-2", false)
	dir.AddMember("room-2", "student-3", roster.Profile{Role: message.RoleStudent, IsMinor: true})

	f := &fixture{
		dir:     dir,
		store:   NewMemoryStore(),
		history: history.NewMemoryStore(0),
		clock:   time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
	}
	f.queue = NewQueue(f.store, dir, f.history)
	var mu sync.Mutex
	f.queue.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func newConcern(messageID, senderID, roomID string) NewConcern {
	owner := "teacher-1"
	if roomID == "room-2" {
		owner = "teacher-2"
	}
	return NewConcern{
		MessageID:       messageID,
		SenderID:        senderID,
		ReviewerOwnerID: owner,
		RoomID:          roomID,
		BotID:           "bot-1",
		ConcernType:     "self_harm",
		SeverityLevel:   "critical",
		Explanation:     "crisis: self_harm",
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	c, created, err := f.queue.Create(context.Background(), newConcern("m1", "student-1", "room-1"))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !created {
		t.Error("created = false for a new message")
	}
	if c.Status != StatusPending {
		t.Errorf("Status = %q, want pending", c.Status)
	}
	if c.ID != IDFor("m1") {
		t.Errorf("ID = %q, want IDFor(m1)", c.ID)
	}
	if c.ReviewerID != nil || c.ReviewedAt != nil {
		t.Error("new concern carries review attribution")
	}
}

func TestCreate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, ok, err := f.queue.Create(ctx, newConcern("m1", "student-1", "room-1"))
			if err != nil {
				t.Errorf("Create() error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[c.ID] = true
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created %d times, want exactly 1", created)
	}
	if len(ids) != 1 {
		t.Errorf("got %d distinct ids, want 1", len(ids))
	}
	page, _ := f.queue.List(ctx, Filter{})
	if page.Total != 1 {
		t.Errorf("Total = %d, want 1", page.Total)
	}
}

func TestCreate_Invalid(t *testing.T) {
	f := newFixture(t)
	nc := newConcern("", "student-1", "room-1")
	if _, _, err := f.queue.Create(context.Background(), nc); !errors.Is(err, ErrInvalid) {
		t.Errorf("Create(no message id) err = %v, want ErrInvalid", err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "reviewing", "resolved", "false_positive"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) error: %v", s, err)
		}
	}
	for _, s := range []string{"", "closed", "PENDING"} {
		if _, err := ParseStatus(s); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("ParseStatus(%q) err = %v, want ErrInvalidStatus", s, err)
		}
	}
	if StatusPending.Terminal() || !StatusResolved.Terminal() || !StatusFalsePositive.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestUpdateStatus_AnyToAny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, _ := f.queue.Create(ctx, newConcern("m1", "student-1", "room-1"))

	notes := "talked with the counselor"
	path := []Status{StatusReviewing, StatusResolved, StatusPending, StatusFalsePositive, StatusReviewing}
	for _, st := range path {
		var n *string
		if st == StatusResolved {
			n = &notes
		}
		got, err := f.queue.UpdateStatus(ctx, c.ID, "teacher-1", st, n)
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error: %v", st, err)
		}
		if got.Status != st {
			t.Errorf("Status = %s, want %s", got.Status, st)
		}
		if got.ReviewerID == nil || *got.ReviewerID != "teacher-1" {
			t.Errorf("ReviewerID = %v", got.ReviewerID)
		}
		if got.ReviewedAt == nil || !got.UpdatedAt.Equal(*got.ReviewedAt) {
			t.Errorf("ReviewedAt = %v UpdatedAt = %v", got.ReviewedAt, got.UpdatedAt)
		}
		if !got.UpdatedAt.After(c.CreatedAt) {
			t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, c.CreatedAt)
		}
	}

	final, _ := f.store.Get(ctx, c.ID)
	if final.Notes == nil || *final.Notes != notes {
		t.Errorf("Notes = %v, want kept from the resolve step", final.Notes)
	}
}

func TestUpdateStatus_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, _ := f.queue.Create(ctx, newConcern("m1", "student-1", "room-1"))

	for _, reviewer := range []string{"teacher-2", ""} {
		if _, err := f.queue.UpdateStatus(ctx, c.ID, reviewer, StatusResolved, nil); !errors.Is(err, ErrForbidden) {
			t.Errorf("UpdateStatus(reviewer %q) err = %v, want ErrForbidden", reviewer, err)
		}
	}
	got, _ := f.store.Get(ctx, c.ID)
	if got.Status != StatusPending || got.ReviewerID != nil {
		t.Errorf("forbidden update changed state: %+v", got)
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _, _ := f.queue.Create(ctx, newConcern("m1", "student-1", "room-1"))

	if _, err := f.queue.UpdateStatus(ctx, c.ID, "teacher-1", "archived", nil); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status err = %v", err)
	}
	if _, err := f.queue.UpdateStatus(ctx, "missing", "teacher-1", StatusResolved, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing concern err = %v", err)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		f.queue.Create(ctx, newConcern(fmt.Sprintf("a%d", i), "student-1", "room-1"))
	}
	f.queue.Create(ctx, newConcern("b1", "student-2", "room-1"))
	f.queue.Create(ctx, newConcern("c1", "student-3", "room-2"))
	f.queue.UpdateStatus(ctx, IDFor("a2"), "teacher-1", StatusResolved, nil)

	tests := []struct {
		name   string
		filter Filter
		total  int
		first  string
		size   int
	}{
		{"all", Filter{}, 7, "c1", 7},
		{"by owner", Filter{ReviewerOwnerID: "teacher-1"}, 6, "b1", 6},
		{"by sender", Filter{SenderID: "student-1"}, 5, "a5", 5},
		{"by status", Filter{Status: StatusResolved}, 1, "a2", 1},
		{"pending sender", Filter{Status: StatusPending, SenderID: "student-1"}, 4, "a5", 4},
		{"paged", Filter{SenderID: "student-1", Page: 2, PageSize: 2}, 5, "a3", 2},
		{"past end", Filter{SenderID: "student-1", Page: 9, PageSize: 2}, 5, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.queue.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if page.Total != tt.total {
				t.Errorf("Total = %d, want %d", page.Total, tt.total)
			}
			if len(page.Concerns) != tt.size {
				t.Fatalf("len = %d, want %d", len(page.Concerns), tt.size)
			}
			if tt.size > 0 && page.Concerns[0].MessageID != tt.first {
				t.Errorf("first = %s, want %s (newest first)", page.Concerns[0].MessageID, tt.first)
			}
		})
	}

	if _, err := f.queue.List(ctx, Filter{Status: "bogus"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("List(bogus status) err = %v", err)
	}
}

func TestList_FollowsRoomOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.Create(ctx, newConcern("r1", "student-1", "room-1"))
	orphan := newConcern("r2", "student-2", "room-1")
	orphan.ReviewerOwnerID = "teacher-gone"
	f.queue.Create(ctx, orphan)

	page, err := f.queue.List(ctx, Filter{ReviewerOwnerID: "teacher-1"})
	if err != nil || page.Total != 2 {
		t.Fatalf("owner list total = %d (err %v), want 2", page.Total, err)
	}

	f.dir.SetRoom("room-1", "teacher-3", false)
	if page, _ := f.queue.List(ctx, Filter{ReviewerOwnerID: "teacher-1"}); page.Total != 0 {
		t.Errorf("previous owner still sees %d concerns", page.Total)
	}
	if page, _ := f.queue.List(ctx, Filter{ReviewerOwnerID: "teacher-3"}); page.Total != 2 {
		t.Errorf("new owner total = %d, want 2", page.Total)
	}
	if page, _ := f.queue.List(ctx, Filter{ReviewerOwnerID: "nobody"}); page.Total != 0 || page.Concerns == nil {
		t.Errorf("owner of no rooms = %+v, want empty page", page)
	}
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := message.ConversationKey{SenderID: "student-1", RoomID: "room-1", BotID: "bot-1"}
	base := time.Date(2026, 10, 1, 7, 0, 0, 0, time.UTC)
	for i := 1; i <= 9; i++ {
		f.history.Append(ctx, key, history.Entry{
			MessageID: fmt.Sprintf("m%d", i),
			SenderID:  "student-1",
			Role:      message.RoleStudent,
			Text:      fmt.Sprintf("line %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	c, _, _ := f.queue.Create(ctx, newConcern("m5", "student-1", "room-1"))

	d, err := f.queue.Detail(ctx, c.ID, "teacher-1", 2, 2)
	if err != nil {
		t.Fatalf("Detail() error: %v", err)
	}
	if d.Concern.ID != c.ID {
		t.Errorf("Concern.ID = %s", d.Concern.ID)
	}
	var got []string
	for _, e := range d.Context {
		got = append(got, e.MessageID)
	}
	if fmt.Sprint(got) != "[m3 m4 m5 m6 m7]" {
		t.Errorf("Context = %v, want [m3 m4 m5 m6 m7]", got)
	}

	if _, err := f.queue.Detail(ctx, c.ID, "teacher-2", 2, 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("Detail(other teacher) err = %v, want ErrForbidden", err)
	}

	orphan, _, _ := f.queue.Create(ctx, newConcern("gone", "student-1", "room-1"))
	d, err = f.queue.Detail(ctx, orphan.ID, "teacher-1", 2, 2)
	if err != nil || len(d.Context) != 0 {
		t.Errorf("Detail(no history) = %v, %v; want empty context", d.Context, err)
	}
}

func TestHasCrisisConcern(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.Create(ctx, newConcern("crisis", "student-1", "room-1"))
	violent := newConcern("violent", "student-1", "room-1")
	violent.ConcernType = "violence"
	f.queue.Create(ctx, violent)

	tests := map[string]bool{"crisis": true, "violent": false, "unknown": false}
	for id, want := range tests {
		got, err := f.queue.HasCrisisConcern(ctx, id)
		if err != nil {
			t.Fatalf("HasCrisisConcern(%q) error: %v", id, err)
		}
		if got != want {
			t.Errorf("HasCrisisConcern(%q) = %v, want %v", id, got, want)
		}
	}
}
