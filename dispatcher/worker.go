package dispatcher

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"booking-service-server/apperrors"
	"booking-service-server/models"
	"booking-service-server/store"
)

// queueWorker is the processing loop of one named queue.
type queueWorker struct {
	cfg    QueueConfig
	jobs   store.JobStore
	router *ChannelRouter

	paused   atomic.Bool
	inflight sync.WaitGroup
}

func (w *queueWorker) setPaused(v bool) {
	w.paused.Store(v)
}

func (w *queueWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.inflight.Wait()
			return
		case <-ticker.C:
			if w.paused.Load() {
				continue
			}
			w.processBatch(ctx)
		}
	}
}

// processBatch claims up to Concurrency due jobs and delivers them in
// parallel. The claim lease outlives the attempt timeout so a crashed
// worker's jobs become claimable again on their own.
func (w *queueWorker) processBatch(ctx context.Context) {
	lease := 2 * w.cfg.AttemptTimeout
	jobs, err := w.jobs.ClaimDueJobs(ctx, w.cfg.Name, w.cfg.Concurrency, time.Now(), lease)
	if err != nil {
		log.Printf("❌ Queue %s: claim failed: %v", w.cfg.Name, err)
		return
	}

	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		w.inflight.Add(1)
		go func() {
			defer wg.Done()
			defer w.inflight.Done()
			w.process(ctx, &job)
		}()
	}
	wg.Wait()
}

// process runs one delivery attempt and settles the job's next state:
// SENT on success, PENDING with backoff on a retryable failure, FAILED on
// a permanent error or retry exhaustion.
func (w *queueWorker) process(ctx context.Context, job *models.NotificationJob) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
	err := w.router.Deliver(attemptCtx, job)
	cancel()

	job.Attempts++
	now := time.Now()

	switch {
	case err == nil:
		job.Status = models.JobStatusSent
		job.SentAt = &now
		job.LastError = ""

	case apperrors.IsPermanentDelivery(err):
		job.Status = models.JobStatusFailed
		job.LastError = err.Error()
		log.Printf("💀 Queue %s: job %s dead-lettered (permanent): %v", w.cfg.Name, job.ID, err)

	case job.Exhausted():
		job.Status = models.JobStatusFailed
		job.LastError = err.Error()
		log.Printf("💀 Queue %s: job %s dead-lettered after %d attempts: %v",
			w.cfg.Name, job.ID, job.Attempts, err)

	default:
		// delay = 2^attempt × baseDelay
		delay := w.cfg.BaseDelay * (1 << job.Attempts)
		job.Status = models.JobStatusPending
		job.NextAttemptAt = now.Add(delay)
		job.LastError = err.Error()
		log.Printf("🔁 Queue %s: job %s attempt %d/%d failed, retrying in %s: %v",
			w.cfg.Name, job.ID, job.Attempts, job.MaxAttempts, delay, err)
	}

	// Settle on the parent context: the attempt may have timed out but the
	// bookkeeping write must still land.
	if err := w.jobs.UpdateJob(ctx, job); err != nil {
		log.Printf("❌ Queue %s: failed to persist job %s state: %v", w.cfg.Name, job.ID, err)
	}
}
