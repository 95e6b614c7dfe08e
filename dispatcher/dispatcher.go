// Package dispatcher is the durable notification job queue: named queues
// with independent worker pools, exponential-backoff retries and
// dead-lettering to FAILED after exhaustion.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"booking-service-server/apperrors"
	"booking-service-server/models"
	"booking-service-server/store"
)

// QueueConfig tunes one named queue. Queues are fully independent: a
// backlog or outage in one never blocks the others.
type QueueConfig struct {
	Name            string
	Concurrency     int
	MaxRetries      int
	BaseDelay       time.Duration
	DefaultPriority int
	AttemptTimeout  time.Duration
	PollInterval    time.Duration
	// Retention bounds how long terminal jobs are kept before GC.
	Retention time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = models.PriorityNormal
	}
	return c
}

// Dispatcher owns the queues. Enqueue is fire-and-forget: once the job row
// is persisted the caller is done, delivery failures live and die inside
// the job's own retry cycle.
type Dispatcher struct {
	jobs   store.JobStore
	router *ChannelRouter

	mu     sync.RWMutex
	queues map[string]*queueWorker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(jobs store.JobStore, router *ChannelRouter) *Dispatcher {
	return &Dispatcher{
		jobs:   jobs,
		router: router,
		queues: make(map[string]*queueWorker),
	}
}

// RegisterQueue declares a named queue. Must be called before Start.
func (d *Dispatcher) RegisterQueue(cfg QueueConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg = cfg.withDefaults()
	d.queues[cfg.Name] = &queueWorker{
		cfg:    cfg,
		jobs:   d.jobs,
		router: d.router,
	}
}

// Enqueue persists the job as PENDING and returns its id. A pre-set
// NextAttemptAt in the future acts as a delayed job; a zero Priority takes
// the queue default.
func (d *Dispatcher) Enqueue(ctx context.Context, job *models.NotificationJob) (string, error) {
	d.mu.RLock()
	w, ok := d.queues[job.Queue]
	d.mu.RUnlock()
	if !ok {
		return "", apperrors.Validation("unknown queue %q", job.Queue)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.JobStatusPending
	job.Attempts = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = w.cfg.MaxRetries
	}
	if job.Priority == 0 {
		job.Priority = w.cfg.DefaultPriority
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = time.Now()
	}

	if err := d.jobs.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("persist notification job: %w", err)
	}
	return job.ID, nil
}

// Start launches one processing loop per registered queue.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, w := range d.queues {
		d.wg.Add(1)
		go func(w *queueWorker) {
			defer d.wg.Done()
			w.run(ctx)
		}(w)
	}
	log.Printf("🚀 Dispatcher started with %d queues", len(d.queues))
}

// Stop cancels all loops and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	log.Println("🛑 Dispatcher stopped")
}

// Pause stops a queue from claiming new jobs. In-flight deliveries finish.
func (d *Dispatcher) Pause(queue string) error {
	w, err := d.queue(queue)
	if err != nil {
		return err
	}
	w.setPaused(true)
	log.Printf("⏸️ Queue %s paused", queue)
	return nil
}

func (d *Dispatcher) Resume(queue string) error {
	w, err := d.queue(queue)
	if err != nil {
		return err
	}
	w.setPaused(false)
	log.Printf("▶️ Queue %s resumed", queue)
	return nil
}

// Drain pauses the queue and waits for its in-flight jobs to settle.
func (d *Dispatcher) Drain(ctx context.Context, queue string) error {
	w, err := d.queue(queue)
	if err != nil {
		return err
	}
	w.setPaused(true)
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("🧹 Queue %s drained", queue)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFailed re-arms every dead-lettered job in the queue. This is the
// only way a FAILED job runs again.
func (d *Dispatcher) RetryFailed(ctx context.Context, queue string) (int64, error) {
	if _, err := d.queue(queue); err != nil {
		return 0, err
	}
	return d.jobs.ResetFailedJobs(ctx, queue, time.Now())
}

// Stats reports per-queue counts for the operator surface.
func (d *Dispatcher) Stats(ctx context.Context) ([]store.QueueStats, error) {
	d.mu.RLock()
	names := make([]string, 0, len(d.queues))
	for name := range d.queues {
		names = append(names, name)
	}
	d.mu.RUnlock()

	out := make([]store.QueueStats, 0, len(names))
	for _, name := range names {
		stats, err := d.jobs.QueueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// PurgeExpired deletes terminal jobs older than each queue's retention
// window. Called by the retention job.
func (d *Dispatcher) PurgeExpired(ctx context.Context) (int64, error) {
	d.mu.RLock()
	workers := make([]*queueWorker, 0, len(d.queues))
	for _, w := range d.queues {
		workers = append(workers, w)
	}
	d.mu.RUnlock()

	var total int64
	for _, w := range workers {
		n, err := d.jobs.PurgeTerminalJobs(ctx, w.cfg.Name, time.Now().Add(-w.cfg.Retention))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (d *Dispatcher) queue(name string) (*queueWorker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.queues[name]
	if !ok {
		return nil, apperrors.NotFound("queue %q not found", name)
	}
	return w, nil
}
