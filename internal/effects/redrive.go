package effects

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brightboard/safety-gate/internal/metrics"
)

const (
	// DefaultRedriveSchedule runs the redrive every minute.
	DefaultRedriveSchedule = "* * * * *"

	// DefaultRedriveBatch is the number of jobs moved per run.
	DefaultRedriveBatch = 500
)

// Redriver moves parked jobs back into the dispatcher on a cron schedule.
type Redriver struct {
	dispatcher *Dispatcher
	dead       DeadLetter
	schedule   string
	batch      int

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewRedriver validates schedule (standard 5-field cron syntax) and creates
// a redriver. An empty schedule selects DefaultRedriveSchedule.
func NewRedriver(d *Dispatcher, dead DeadLetter, schedule string) (*Redriver, error) {
	if schedule == "" {
		schedule = DefaultRedriveSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("effects: invalid redrive schedule %q: %w", schedule, err)
	}
	return &Redriver{
		dispatcher: d,
		dead:       dead,
		schedule:   schedule,
		batch:      DefaultRedriveBatch,
		cron:       cron.New(),
	}, nil
}

// Start returns jobs left claimed by a previous process to the parked list
// and schedules the redrive. It stops when ctx is cancelled or on Stop.
func (r *Redriver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, err := r.dead.Recover(ctx); err != nil {
		log.Printf("[effects] WARN recover claimed jobs: %v", err)
	} else if n > 0 {
		log.Printf("[effects] recovered %d claimed jobs", n)
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Redrive(ctx); err != nil {
			log.Printf("[effects] redrive failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("effects: schedule redrive: %w", err)
	}
	r.cron.Start()
	r.running = true
	log.Printf("[effects] redriver started schedule=%q", r.schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop stops the schedule and waits for a running redrive to finish.
func (r *Redriver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	log.Printf("[effects] redriver stopped")
}

// Redrive claims up to one batch of parked jobs, resubmits them to the
// dispatcher and returns how many were resubmitted. A claim is released only
// after its job completes or is parked again.
func (r *Redriver) Redrive(ctx context.Context) (int, error) {
	jobs, claimErr := r.dead.Claim(ctx, r.batch)
	n := 0
	for _, job := range jobs {
		job.Redrives++
		job.Attempts = 0
		if err := r.dispatcher.Submit(ctx, job); err != nil {
			// Submit only fails when the job could not be parked again.
			log.Printf("[effects] ERROR redrive kind=%s message=%s left claimed: %v", job.Kind, job.MessageID, err)
			continue
		}
		metrics.SideEffects.WithLabelValues(string(job.Kind), "redriven").Inc()
		n++
	}
	if claimErr != nil {
		return n, claimErr
	}

	if size, err := r.dead.Len(ctx); err == nil {
		metrics.DeadLetterSize.Set(float64(size))
	}
	if n > 0 {
		log.Printf("[effects] redrove %d jobs at %s", n, time.Now().UTC().Format(time.RFC3339))
	}
	return n, nil
}
