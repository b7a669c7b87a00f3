package sync

import (
	"context"
	"errors"
	"log"
	stdsync "sync"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/tasks"
)

// cleanupEvery is how often the sweeper prunes old sync logs and done jobs.
const cleanupEvery = 24 * time.Hour

// Sweeper is the safety net under the scheduled retries: on a fixed interval
// it scans for confirmed events stuck in pending or failed state and queues
// them, catching events whose scheduled retry was lost to a crash.
type Sweeper struct {
	store        *db.DB
	queue        *tasks.Queue
	interval     time.Duration
	logRetention time.Duration

	mu          stdsync.Mutex
	started     bool
	cancel      context.CancelFunc
	wg          stdsync.WaitGroup
	lastCleanup time.Time
}

// NewSweeper creates a sweeper scanning at the given interval.
func NewSweeper(store *db.DB, queue *tasks.Queue, interval, logRetention time.Duration) *Sweeper {
	return &Sweeper{
		store:        store,
		queue:        queue,
		interval:     interval,
		logRetention: logRetention,
	}
}

// Start launches the sweep goroutine. Calling Start twice is an error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("sweeper already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go s.run(ctx)

	log.Printf("[sweep] started, interval %s", s.interval)
	return nil
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("[sweep] stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one scan. Exported so a sweep can be forced in tests and on
// startup.
func (s *Sweeper) Sweep() {
	events, err := s.store.EventsNeedingSync()
	if err != nil {
		log.Printf("[sweep] failed to scan events: %v", err)
		return
	}

	queued := 0
	for _, event := range events {
		if !s.due(event, time.Now().UTC()) {
			continue
		}
		if err := s.queue.EnqueueCreate(event.ID, true, 0); err != nil {
			log.Printf("[sweep] failed to queue event %s: %v", event.ID, err)
			continue
		}
		queued++
	}

	if queued > 0 {
		log.Printf("[sweep] queued %d events for sync", queued)
	}

	s.maybeCleanup()
}

// due decides whether the sweep may touch an event. Exhausted events are
// left alone for manual retry; failed events still inside their backoff
// window are left for their scheduled attempt.
func (s *Sweeper) due(event *db.Event, now time.Time) bool {
	if event.SyncRetryCount >= MaxRetries {
		return false
	}
	if event.SyncRetryCount == 0 {
		return true
	}

	delay, ok := RetryDelay(event.SyncRetryCount)
	if !ok {
		return false
	}
	if event.LastSyncAttempt != nil && now.Sub(*event.LastSyncAttempt) < delay {
		return false
	}
	return true
}

func (s *Sweeper) maybeCleanup() {
	if time.Since(s.lastCleanup) < cleanupEvery {
		return
	}
	s.lastCleanup = time.Now()

	if n, err := s.store.CleanOldSyncLogs(s.logRetention); err != nil {
		log.Printf("[sweep] failed to clean sync logs: %v", err)
	} else if n > 0 {
		log.Printf("[sweep] removed %d old sync log rows", n)
	}

	if n, err := s.store.DeleteOldJobs(s.logRetention); err != nil {
		log.Printf("[sweep] failed to clean jobs: %v", err)
	} else if n > 0 {
		log.Printf("[sweep] removed %d completed jobs", n)
	}
}
