package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DeadLetterKey is the Redis list holding parked jobs. Jobs taken by a
// redrive sit in ClaimedKey until they complete or are parked again.
const (
	DeadLetterKey = "effects:dead"
	ClaimedKey    = "effects:dead:claimed"
)

// DeadLetter parks jobs that could not be completed.
type DeadLetter interface {
	Push(ctx context.Context, job Job) error

	// Claim moves up to max of the oldest parked jobs to the claimed list
	// and returns them. A claimed job stays there until Ack.
	Claim(ctx context.Context, max int) ([]Job, error)

	// Ack releases the claim on a job returned by Claim.
	Ack(ctx context.Context, job Job) error

	// Recover returns every claimed job to the parked list, oldest first,
	// and reports how many were moved.
	Recover(ctx context.Context) (int, error)

	Len(ctx context.Context) (int64, error)
}

// RedisDeadLetter keeps parked jobs in a Redis list, oldest at the tail.
type RedisDeadLetter struct {
	client  *redis.Client
	key     string
	claimed string
}

// NewRedisDeadLetter creates a dead-letter list on client.
func NewRedisDeadLetter(client *redis.Client) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, key: DeadLetterKey, claimed: ClaimedKey}
}

// Push implements DeadLetter.
func (d *RedisDeadLetter) Push(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("effects: encode dead letter: %w", err)
	}
	if err := d.client.LPush(ctx, d.key, b).Err(); err != nil {
		return fmt.Errorf("effects: dead letter push: %w", err)
	}
	return nil
}

// Claim implements DeadLetter with LMOVE, so a job is always on one of the
// two lists. Entries that cannot be decoded are logged and dropped.
func (d *RedisDeadLetter) Claim(ctx context.Context, max int) ([]Job, error) {
	var jobs []Job
	for len(jobs) < max {
		raw, err := d.client.LMove(ctx, d.key, d.claimed, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return jobs, fmt.Errorf("effects: dead letter claim: %w", err)
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Printf("[effects] WARN undecodable dead letter dropped: %v", err)
			d.client.LRem(ctx, d.claimed, 1, raw)
			continue
		}
		job.claim = raw
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack implements DeadLetter.
func (d *RedisDeadLetter) Ack(ctx context.Context, job Job) error {
	if job.claim == "" {
		return nil
	}
	if err := d.client.LRem(ctx, d.claimed, 1, job.claim).Err(); err != nil {
		return fmt.Errorf("effects: dead letter ack: %w", err)
	}
	return nil
}

// Recover implements DeadLetter.
func (d *RedisDeadLetter) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := d.client.LMove(ctx, d.claimed, d.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("effects: dead letter recover: %w", err)
		}
		n++
	}
}

// Len implements DeadLetter.
func (d *RedisDeadLetter) Len(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, d.key).Result()
}

// MemoryDeadLetter is an in-process DeadLetter for tests.
type MemoryDeadLetter struct {
	mu      sync.Mutex
	jobs    []Job
	claimed []Job
	seq     int
}

// NewMemoryDeadLetter creates an empty list.
func NewMemoryDeadLetter() *MemoryDeadLetter {
	return &MemoryDeadLetter{}
}

// Push implements DeadLetter.
func (d *MemoryDeadLetter) Push(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	job.claim = ""
	d.jobs = append(d.jobs, job)
	return nil
}

// Claim implements DeadLetter.
func (d *MemoryDeadLetter) Claim(_ context.Context, max int) ([]Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if max > len(d.jobs) {
		max = len(d.jobs)
	}
	out := make([]Job, 0, max)
	for _, job := range d.jobs[:max] {
		d.seq++
		job.claim = strconv.Itoa(d.seq)
		d.claimed = append(d.claimed, job)
		out = append(out, job)
	}
	d.jobs = d.jobs[max:]
	return out, nil
}

// Ack implements DeadLetter.
func (d *MemoryDeadLetter) Ack(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimed = slices.DeleteFunc(d.claimed, func(c Job) bool { return c.claim == job.claim })
	return nil
}

// Recover implements DeadLetter.
func (d *MemoryDeadLetter) Recover(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.claimed)
	for i := range d.claimed {
		d.claimed[i].claim = ""
	}
	d.jobs = append(d.claimed, d.jobs...)
	d.claimed = nil
	return n, nil
}

// Len implements DeadLetter.
func (d *MemoryDeadLetter) Len(_ context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.jobs)), nil
}
