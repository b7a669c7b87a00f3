package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	stdsync "sync"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/tasks"
)

// stuckJobAge is how long a job may sit in the running state before the
// worker assumes the claiming process died and returns it to pending.
const stuckJobAge = 10 * time.Minute

// Worker polls the durable task queue and executes sync jobs against the
// engine. Jobs are marked done regardless of the sync outcome: the engine
// schedules its own follow-up on failure, so completing the job here is what
// prevents the queue and the engine from both retrying the same event.
type Worker struct {
	engine *Engine
	queue  *tasks.Queue
	poll   time.Duration

	mu      stdsync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
}

// NewWorker creates a worker polling at the given interval.
func NewWorker(engine *Engine, queue *tasks.Queue, poll time.Duration) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
		poll:   poll,
	}
}

// Start launches the polling goroutine. Calling Start twice is an error.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("worker already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)

	log.Printf("[worker] started, polling every %s", w.poll)
	return nil
}

// Stop halts polling and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.started = false
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[worker] stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	if n, err := w.queue.RequeueStuck(stuckJobAge); err != nil {
		log.Printf("[worker] failed to requeue stuck jobs: %v", err)
	} else if n > 0 {
		log.Printf("[worker] requeued %d stuck jobs", n)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain executes due jobs until the queue is empty or the context ends.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Claim()
		if errors.Is(err, db.ErrNotFound) {
			return
		}
		if err != nil {
			log.Printf("[worker] failed to claim job: %v", err)
			return
		}

		w.execute(ctx, job)
	}
}

func (w *Worker) execute(ctx context.Context, job *db.Job) {
	var lastError string

	switch job.Kind {
	case tasks.KindSyncCreate:
		var payload tasks.SyncCreatePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			lastError = "bad payload: " + err.Error()
			break
		}
		result := w.engine.CreateSync(ctx, payload.EventID, payload.IsRetry)
		if !result.Success {
			lastError = result.Error
		}

	case tasks.KindSyncUpdate:
		var payload tasks.SyncUpdatePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			lastError = "bad payload: " + err.Error()
			break
		}
		result := w.engine.UpdateSync(ctx, payload.EventID)
		if !result.Success {
			lastError = result.Error
		}

	case tasks.KindSyncDelete:
		var payload tasks.SyncDeletePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			lastError = "bad payload: " + err.Error()
			break
		}
		result := w.engine.DeleteSync(ctx, payload.FamilyID, payload.GoogleEventID)
		if !result.Success {
			lastError = result.Error
		}

	default:
		lastError = "unknown job kind: " + job.Kind
		log.Printf("[worker] unknown job kind %q (job %s)", job.Kind, job.ID)
	}

	if err := w.queue.Done(job.ID, lastError); err != nil {
		log.Printf("[worker] failed to complete job %s: %v", job.ID, err)
	}
}
