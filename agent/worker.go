package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status represents the current state of a worker.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusStopped Status = "stopped"
)

// Worker runs an agent's cooperative polling loop: claim, execute, report,
// sleep when the queue is empty. Workers share no in-memory state; all
// coordination happens through the task store and the event log.
type Worker struct {
	mu      sync.RWMutex
	runtime *Runtime
	agent   Agent
	logger  *slog.Logger
	poll    time.Duration
	status  Status
	cancel  context.CancelFunc
}

// NewWorker creates a worker that polls for tasks every poll interval.
func NewWorker(rt *Runtime, a Agent, poll time.Duration, logger *slog.Logger) *Worker {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runtime: rt,
		agent:   a,
		logger:  logger,
		poll:    poll,
		status:  StatusIdle,
	}
}

// Status returns the worker's current state.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Start begins the worker's polling loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker %s already running", w.runtime.ID())
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.status = StatusIdle
	w.mu.Unlock()

	// An idle worker has no progress to report; count startup as the first
	// heartbeat so the watchdog only flags workers that went quiet mid-work.
	w.runtime.markHeartbeat(time.Now())

	go w.loop(ctx)
	return nil
}

// Stop cancels the loop. A worker stopped mid-handle leaves its claimed task
// IN_PROGRESS; reclaiming stale ownership is the caller's concern.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.status = StatusStopped
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = StatusStopped
			w.cancel = nil
			w.mu.Unlock()
			return
		default:
		}

		w.setStatus(StatusWorking)
		res, err := w.runtime.PollAndRun(ctx, w.agent)
		if err != nil {
			w.logger.Error("poll and run", "agent", w.runtime.ID(), "err", err)
		}
		if res == nil {
			w.setStatus(StatusIdle)
			select {
			case <-ctx.Done():
			case <-time.After(w.poll):
			}
		}
	}
}

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}
