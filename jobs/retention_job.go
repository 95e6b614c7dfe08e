// Package jobs holds the background housekeeping loops.
package jobs

import (
	"context"
	"log"
	"time"

	"booking-service-server/dispatcher"
)

// RetentionJob periodically purges terminal notification jobs past their
// queue's retention window.
type RetentionJob struct {
	dispatcher *dispatcher.Dispatcher
	interval   time.Duration
	stopChan   chan bool
}

func NewRetentionJob(d *dispatcher.Dispatcher, interval time.Duration) *RetentionJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionJob{
		dispatcher: d,
		interval:   interval,
		stopChan:   make(chan bool),
	}
}

// Start begins the retention loop.
func (j *RetentionJob) Start() {
	go j.run()
	log.Println("🚀 Retention job started")
}

// Stop stops the retention loop.
func (j *RetentionJob) Stop() {
	j.stopChan <- true
	log.Println("🛑 Retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.purge()
		case <-j.stopChan:
			return
		}
	}
}

func (j *RetentionJob) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := j.dispatcher.PurgeExpired(ctx)
	if err != nil {
		log.Printf("❌ Retention purge failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("🧹 Purged %d expired notification jobs", purged)
	}
}
