package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/message"
)

var (
	convA = message.ConversationKey{SenderID: "s1", RoomID: "r1", BotID: "b1"}
	convB = message.ConversationKey{SenderID: "s1", RoomID: "r1", BotID: "b2"}
	t0    = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
)

func entry(i int) Entry {
	return Entry{
		MessageID: fmt.Sprintf("msg-%d", i),
		SenderID:  "s1",
		Role:      message.RoleStudent,
		Text:      fmt.Sprintf("text %d", i),
		Timestamp: t0.Add(time.Duration(i) * time.Second),
	}
}

// exerciseSource runs the shared behaviour checks against any Source.
func exerciseSource(t *testing.T, src Source, capacity int) {
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		if err := src.Append(ctx, convA, entry(i)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := src.Append(ctx, convB, entry(100)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	t.Run("window", func(t *testing.T) {
		got, err := src.Around(ctx, convA, "msg-5", 2, 3)
		if err != nil {
			t.Fatalf("Around() error: %v", err)
		}
		want := []string{"msg-3", "msg-4", "msg-5", "msg-6", "msg-7", "msg-8"}
		if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
			t.Errorf("Around() = %v, want %v", ids(got), want)
		}
	})

	t.Run("edges", func(t *testing.T) {
		got, _ := src.Around(ctx, convA, "msg-1", 5, 1)
		if fmt.Sprint(ids(got)) != "[msg-1 msg-2]" {
			t.Errorf("Around(first) = %v", ids(got))
		}
		got, _ = src.Around(ctx, convA, "msg-10", 1, 5)
		if fmt.Sprint(ids(got)) != "[msg-9 msg-10]" {
			t.Errorf("Around(last) = %v", ids(got))
		}
	})

	t.Run("isolated conversations", func(t *testing.T) {
		if _, err := src.Around(ctx, convB, "msg-5", 1, 1); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Around(other conversation) err = %v, want ErrMessageNotFound", err)
		}
	})

	t.Run("redelivery", func(t *testing.T) {
		if err := src.Append(ctx, convA, entry(10)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		got, _ := src.Around(ctx, convA, "msg-10", MaxWindow, 0)
		if len(got) != 10 {
			t.Errorf("after redelivery len = %d, want 10", len(got))
		}
	})

	t.Run("capacity", func(t *testing.T) {
		for i := 11; i <= capacity+10; i++ {
			src.Append(ctx, convA, entry(i))
		}
		if _, err := src.Around(ctx, convA, "msg-1", 0, 0); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("oldest message still retained beyond capacity")
		}
		got, err := src.Around(ctx, convA, fmt.Sprintf("msg-%d", capacity+10), MaxWindow, 0)
		if err != nil {
			t.Fatalf("Around() error: %v", err)
		}
		want := capacity
		if want > MaxWindow+1 {
			want = MaxWindow + 1
		}
		if len(got) != want {
			t.Errorf("len = %d, want %d", len(got), want)
		}
	})
}

func ids(es []Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.MessageID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	exerciseSource(t, NewMemoryStore(20), 20)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Append(ctx, convA, entry(g*1000+i))
				s.Around(ctx, convA, "msg-0", 2, 2)
			}
		}(g)
	}
	wg.Wait()
	if n := len(s.get(convA)); n != DefaultCapacity {
		t.Errorf("len = %d, want %d", n, DefaultCapacity)
	}
}

func TestWindowClamp(t *testing.T) {
	es := []Entry{entry(1), entry(2), entry(3)}
	got, err := window(es, "msg-2", -4, -1)
	if err != nil {
		t.Fatalf("window() error: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "msg-2" {
		t.Errorf("window(negative) = %v, want only the anchor", ids(got))
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		client.Del(ctx, KeyPrefix+convA.String(), KeyPrefix+convB.String())
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})

	exerciseSource(t, NewRedisStore(client, 20, time.Minute), 20)

	ttl, err := client.TTL(ctx, KeyPrefix+convA.String()).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v (err %v), want (0, 1m]", ttl, err)
	}
}
