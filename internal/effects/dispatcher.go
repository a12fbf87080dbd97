package effects

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/brightboard/safety-gate/internal/metrics"
)

// Handler performs one side effect. It must be idempotent: a job may run
// more than once.
type Handler func(ctx context.Context, job Job) error

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("effects: dispatcher stopped")

// Config sizes the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	BaseBackoff time.Duration
	JobTimeout  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		QueueSize:   1024,
		MaxRetries:  5,
		BaseBackoff: 100 * time.Millisecond,
		JobTimeout:  5 * time.Second,
	}
}

// Dispatcher is a bounded worker pool for side-effect jobs.
type Dispatcher struct {
	cfg      Config
	dead     DeadLetter
	handlers map[Kind]Handler

	queue   chan Job
	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher parking failed jobs in dead.
func NewDispatcher(cfg Config, dead DeadLetter) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	return &Dispatcher{
		cfg:      cfg,
		dead:     dead,
		handlers: make(map[Kind]Handler),
		queue:    make(chan Job, cfg.QueueSize),
	}
}

// Handle registers the handler for kind. Call before Start.
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Start launches the workers. They run until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	log.Printf("[effects] dispatcher started workers=%d queue=%d retries=%d",
		d.cfg.Workers, d.cfg.QueueSize, d.cfg.MaxRetries)
}

// Submit enqueues job without blocking. When the queue is full the job is
// parked in the dead-letter list for the next redrive.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return d.park(ctx, job, ErrStopped)
	}

	select {
	case d.queue <- job:
		return nil
	default:
		log.Printf("[effects] WARN queue full, parking kind=%s message=%s", job.Kind, job.MessageID)
		return d.park(ctx, job, errors.New("queue full"))
	}
}

// Stop stops accepting jobs, lets the workers finish what is queued, and
// waits for them. Jobs still queued in memory when the process dies
// without Stop are lost unless they came from a redrive.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
	log.Printf("[effects] dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(ctx, job)
	}
}

// run executes one job with retries. Exhausted jobs are parked.
func (d *Dispatcher) run(ctx context.Context, job Job) {
	h, ok := d.handlers[job.Kind]
	if !ok {
		d.park(ctx, job, fmt.Errorf("no handler for kind %q", job.Kind))
		return
	}

	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxRetries), retry.NewExponential(d.cfg.BaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		job.Attempts++
		jctx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
		if err := h(jctx, job); err != nil {
			metrics.SideEffects.WithLabelValues(string(job.Kind), "retried").Inc()
			log.Printf("[effects] %s message=%s attempt=%d failed: %v", job.Kind, job.MessageID, job.Attempts, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.park(context.WithoutCancel(ctx), job, err)
		return
	}
	metrics.SideEffects.WithLabelValues(string(job.Kind), "ok").Inc()
	d.release(context.WithoutCancel(ctx), job)
}

// release drops the dead-letter claim of a redriven job once it has either
// completed or been parked again. Until then a crash leaves it claimed and
// Recover brings it back.
func (d *Dispatcher) release(ctx context.Context, job Job) {
	if job.claim == "" {
		return
	}
	if err := d.dead.Ack(ctx, job); err != nil {
		log.Printf("[effects] WARN release claim kind=%s message=%s: %v", job.Kind, job.MessageID, err)
	}
}

func (d *Dispatcher) park(ctx context.Context, job Job, cause error) error {
	job.LastError = cause.Error()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.dead.Push(pctx, job); err != nil {
		log.Printf("[effects] ERROR could not park kind=%s message=%s (cause: %v): %v", job.Kind, job.MessageID, cause, err)
		return fmt.Errorf("effects: park: %w", err)
	}
	metrics.SideEffects.WithLabelValues(string(job.Kind), "dead_letter").Inc()
	metrics.DeadLetterSize.Inc()
	log.Printf("[effects] WARN parked kind=%s message=%s attempts=%d: %v", job.Kind, job.MessageID, job.Attempts, cause)
	d.release(pctx, job)
	return nil
}
