package roster

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/message"
)

func newStatic() *StaticDirectory {
	d := NewStaticDirectory()
	d.SetRoom("room-1", "teacher-1", false)
	d.SetRoom("room-2", "teacher-2", true)
	d.AddMember("room-1", "student-1", Profile{Role: message.RoleStudent, IsMinor: true})
	d.AddMember("room-2", "student-1", Profile{Role: message.RoleStudent, IsMinor: true})
	d.AddMember("room-2", "adult-1", Profile{Role: message.RoleStudent})
	return d
}

func TestStaticDirectory_Profile(t *testing.T) {
	d := newStatic()
	ctx := context.Background()

	p, err := d.Profile(ctx, "student-1", "room-1")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if !p.IsMinor || p.OwnerID != "teacher-1" || p.StrictMode {
		t.Errorf("Profile() = %+v", p)
	}

	p, _ = d.Profile(ctx, "adult-1", "room-2")
	if p.IsMinor || !p.StrictMode {
		t.Errorf("Profile(adult in strict room) = %+v", p)
	}

	if _, err := d.Profile(ctx, "nobody", "room-1"); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("Profile(unknown) err = %v, want ErrUnknownMember", err)
	}

	d.SetFallback(UnknownProfile)
	p, err = d.Profile(ctx, "nobody", "room-9")
	if err != nil || p != UnknownProfile {
		t.Errorf("Profile(fallback) = %+v, %v", p, err)
	}
}

func TestStaticDirectory_CanReview(t *testing.T) {
	d := newStatic()
	tests := []struct {
		reviewer, room, sender string
		want                   bool
	}{
		{"teacher-1", "room-1", "student-1", true},
		{"teacher-2", "room-1", "student-1", false},
		{"teacher-1", "room-2", "student-1", false},
		{"teacher-1", "room-1", "stranger", false},
		{"teacher-1", "room-x", "student-1", false},
	}
	for _, tt := range tests {
		got, err := d.CanReview(context.Background(), tt.reviewer, tt.room, tt.sender)
		if err != nil {
			t.Fatalf("CanReview() error: %v", err)
		}
		if got != tt.want {
			t.Errorf("CanReview(%q, %q, %q) = %v, want %v", tt.reviewer, tt.room, tt.sender, got, tt.want)
		}
	}
}

func TestStaticDirectory_Rooms(t *testing.T) {
	d := newStatic()
	d.SetRoom("room-3", "teacher-1", false)
	ctx := context.Background()

	owner, err := d.RoomOwner(ctx, "room-2")
	if err != nil || owner != "teacher-2" {
		t.Errorf("RoomOwner(room-2) = %q, %v", owner, err)
	}
	if _, err := d.RoomOwner(ctx, "room-x"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("RoomOwner(unknown) err = %v, want ErrUnknownRoom", err)
	}

	rooms, err := d.OwnedRooms(ctx, "teacher-1")
	if err != nil || len(rooms) != 2 || rooms[0] != "room-1" || rooms[1] != "room-3" {
		t.Errorf("OwnedRooms(teacher-1) = %v, %v", rooms, err)
	}
	if rooms, _ := d.OwnedRooms(ctx, "nobody"); len(rooms) != 0 {
		t.Errorf("OwnedRooms(nobody) = %v", rooms)
	}
}

type countingDirectory struct {
	Directory
	calls int
}

func (c *countingDirectory) Profile(ctx context.Context, senderID, roomID string) (Profile, error) {
	c.calls++
	return c.Directory.Profile(ctx, senderID, roomID)
}

func TestCachedDirectory(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	key := cacheKey("student-1", "room-1")
	client.Del(ctx, key)
	t.Cleanup(func() {
		client.Del(ctx, key)
		client.Close()
	})

	next := &countingDirectory{Directory: newStatic()}
	d := NewCachedDirectory(next, client, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := d.Profile(ctx, "student-1", "room-1")
		if err != nil {
			t.Fatalf("Profile() error: %v", err)
		}
		if !p.IsMinor || p.OwnerID != "teacher-1" || p.Role != message.RoleStudent {
			t.Errorf("Profile() = %+v", p)
		}
	}
	if next.calls != 1 {
		t.Errorf("underlying directory called %d times, want 1", next.calls)
	}

	if ttl := client.TTL(ctx, key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("cache TTL = %v, want within a minute", ttl)
	}
	// An expired entry is refilled from the underlying directory.
	client.Del(ctx, key)
	d.Profile(ctx, "student-1", "room-1")
	if next.calls != 2 {
		t.Errorf("after expiry calls = %d, want 2", next.calls)
	}

	if _, err := d.Profile(ctx, "nobody", "room-1"); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("unknown member err = %v", err)
	}
	ok, _ := d.CanReview(ctx, "teacher-1", "room-1", "student-1")
	if !ok {
		t.Error("CanReview() = false through cache")
	}
}
