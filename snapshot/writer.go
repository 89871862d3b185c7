// Package snapshot implements the progress snapshot writer: a write-behind
// adapter that turns loop-local progress (turn index, phase, agent envelope
// deltas) into incremental merge-writes against the run state store without
// stalling the turn loop on store latency.
//
// Progress durability is best-effort by contract: a dropped or failed
// progress write degrades observability of an in-flight run, never its
// outcome. Terminal writes do not go through this package; the turn loop
// performs those synchronously with bounded retry.
package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oru-labs/runloop/logging"
	"github.com/oru-labs/runloop/runstate"
)

// Options configures a Writer.
type Options struct {
	// BufferSize is the capacity of the pending-update queue. When the
	// queue is full, Push drops the update instead of blocking the loop.
	BufferSize int
	// WriteTimeout bounds each store write.
	WriteTimeout time.Duration
	// Logger receives drop/failure diagnostics.
	Logger logging.Logger
}

// Writer applies merge-writes for one run in the background, in push order.
//
// Push never blocks beyond a channel send to a buffered queue. Store failures
// are swallowed and logged; an update targeting an already-terminal run (the
// loop finalized while telemetry was still in flight) is expected and dropped
// silently.
type Writer struct {
	store   runstate.Store
	runID   string
	timeout time.Duration
	logger  logging.Logger

	updates chan runstate.Update
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
	failed  int
}

// NewWriter starts a writer for one run. Callers must Close it when the run
// finishes to drain pending progress writes.
func NewWriter(store runstate.Store, runID string, optFns ...func(o *Options)) *Writer {
	opts := Options{
		BufferSize:   64,
		WriteTimeout: 5 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	w := &Writer{
		store:   store,
		runID:   runID,
		timeout: opts.WriteTimeout,
		logger:  opts.Logger,
		updates: make(chan runstate.Update, opts.BufferSize),
		done:    make(chan struct{}),
	}

	go w.loop()

	return w
}

// Push enqueues a merge-write. It never blocks: when the queue is saturated
// the update is dropped and counted, because stalling the turn loop on
// telemetry would invert the durability contract.
func (w *Writer) Push(u runstate.Update) {
	if u.Empty() {
		return
	}

	// The send happens under the mutex so a racing Close (which flips
	// closed and closes the channel under the same lock) can never observe
	// a send to the closed channel.
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	select {
	case w.updates <- u:
		w.mu.Unlock()
	default:
		w.dropped++
		n := w.dropped
		w.mu.Unlock()
		w.logger.Warn("snapshot.push.dropped", "run_id", w.runID, "dropped_total", n)
	}
}

// Close stops accepting updates, drains the queue, and waits for the
// background writer to exit. Safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.updates)
	w.mu.Unlock()

	<-w.done
}

// Dropped returns how many updates were discarded due to a saturated queue.
func (w *Writer) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Failed returns how many writes the store rejected (excluding expected
// post-terminal rejections).
func (w *Writer) Failed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *Writer) loop() {
	defer close(w.done)

	for u := range w.updates {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		_, err := w.store.Update(ctx, w.runID, u)
		cancel()

		if err == nil {
			continue
		}
		if errors.Is(err, runstate.ErrInvalidTransition) {
			// The run finalized before this progress write landed.
			w.logger.Debug("snapshot.write.post_terminal", "run_id", w.runID)
			continue
		}
		w.mu.Lock()
		w.failed++
		n := w.failed
		w.mu.Unlock()
		w.logger.Warn("snapshot.write.failed", "run_id", w.runID, "error", err.Error(), "failed_total", n)
	}
}
