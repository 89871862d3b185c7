package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/logging"
	"github.com/oru-labs/runloop/model"
	"github.com/oru-labs/runloop/runstate"
	"github.com/oru-labs/runloop/scratchpad"
	"github.com/oru-labs/runloop/snapshot"
	"github.com/oru-labs/runloop/tool"
)

// terminalWriteAttempts bounds the retry loop for terminal store writes.
// Progress writes are best-effort; the terminal write is the one record the
// loop must not lose, so it retries before giving up.
const terminalWriteAttempts = 3

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// MaxTurns bounds loop iterations before the run ends incomplete.
	MaxTurns int
	// EventBufferSize sets channel buffering for the caller-facing stream.
	EventBufferSize int
	// SnapshotBufferSize sets the progress snapshot writer's queue capacity.
	SnapshotBufferSize int
	// Instructions is the system prompt sent on every inference call.
	Instructions string
	// Store persists run records.
	Store runstate.Store
	// Scratchpad backs scratchpad-aware tools. May be nil.
	Scratchpad core.ScratchpadStore
	// Logger receives structured diagnostics.
	Logger logging.Logger
}

// Runner drives runs through the turn loop: it creates the run record,
// alternates inference and tool execution, streams events to the caller, and
// performs the terminal write. Public methods are safe for concurrent use;
// each run executes on its own goroutine with strictly sequential turns.
type Runner struct {
	model model.Model

	maxTurns           int
	eventBufferSize    int
	snapshotBufferSize int
	instructions       string

	store runstate.Store
	pad   core.ScratchpadStore

	logger logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(m model.Model, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxTurns:           200,
		EventBufferSize:    100,
		SnapshotBufferSize: 64,
		Store:              runstate.NewInMemoryStore(),
		Scratchpad:         scratchpad.NewInMemoryStore(),
		Logger:             logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		model:              m,
		maxTurns:           opts.MaxTurns,
		eventBufferSize:    opts.EventBufferSize,
		snapshotBufferSize: opts.SnapshotBufferSize,
		instructions:       opts.Instructions,
		store:              opts.Store,
		pad:                opts.Scratchpad,
		logger:             opts.Logger,
		activeRuns:         make(map[string]context.CancelFunc),
	}
}

// Store exposes the run store for read-side callers (status queries, listing).
func (r *Runner) Store() runstate.Store { return r.store }

// Start begins an asynchronous run. It returns the new run id plus the event
// and error streams; both channels close when the run reaches a terminal
// state.
func (r *Runner) Start(
	ctx context.Context,
	userContent core.Content,
	tools []tool.Tool,
) (string, <-chan core.Event, <-chan error, error) {
	router := tool.NewRouter(tools)

	run, err := r.store.Create(ctx, router.Manifest())
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to create run: %w", err)
	}

	writer := snapshot.NewWriter(r.store, run.ID, func(o *snapshot.Options) {
		o.BufferSize = r.snapshotBufferSize
		o.Logger = r.logger
	})
	router.AttachSnapshots(writer)

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[run.ID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			close(eventsCh)
			close(errorsCh)
			r.mu.Lock()
			delete(r.activeRuns, run.ID)
			r.mu.Unlock()
			cancel()
		}()

		r.execute(runCtx, run.ID, userContent, tools, router, writer, eventsCh, errorsCh)
	}()

	return run.ID, eventsCh, errorsCh, nil
}

// Run executes synchronously: it starts the run, drains the streams, and
// returns the terminal run snapshot plus the collected events.
func (r *Runner) Run(
	ctx context.Context,
	userContent core.Content,
	tools []tool.Tool,
) (*core.Run, []core.Event, error) {
	runID, eventsCh, errorsCh, err := r.Start(ctx, userContent, tools)
	if err != nil {
		return nil, nil, err
	}

	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}
	var runErr error
	for err := range errorsCh {
		runErr = err
	}

	run, getErr := r.store.Get(ctx, runID)
	if getErr != nil {
		return nil, events, getErr
	}

	return run, events, runErr
}

// Cancel cancels an in-flight run by id. The loop observes the cancellation
// at its next checkpoint and finalizes the run as failed.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// execute is the turn loop body. It owns every write to the run record from
// queued to terminal.
func (r *Runner) execute(
	ctx context.Context,
	runID string,
	userContent core.Content,
	tools []tool.Tool,
	router *tool.Router,
	writer *snapshot.Writer,
	eventsCh chan<- core.Event,
	errorsCh chan<- error,
) {
	if _, err := r.store.UpdateStatus(ctx, runID, core.StatusRunning); err != nil {
		r.fail(ctx, runID, 0, fmt.Sprintf("failed to start run: %v", err), nil, writer, eventsCh, errorsCh)
		return
	}

	// First write is synchronous and batched: started_at, the initial turn
	// counter and the envelope land atomically before any inference happens.
	started := time.Now().Unix()
	firstTurn := 1
	first := runstate.Update{
		StartedAt:   &started,
		CurrentTurn: &firstTurn,
		MetaData:    envelopeDelta(1, core.PhaseInference),
	}
	if _, err := r.store.Update(ctx, runID, first); err != nil {
		r.fail(ctx, runID, 0, fmt.Sprintf("failed to record run start: %v", err), nil, writer, eventsCh, errorsCh)
		return
	}

	defs := toolDefinitions(tools)
	history := []core.Content{userContent}
	acc := core.NewUsageAccumulator()

	for turn := 1; ; turn++ {
		if turn > r.maxTurns {
			r.incomplete(ctx, runID, turn-1, acc, writer, eventsCh)
			return
		}

		if err := ctx.Err(); err != nil {
			r.fail(ctx, runID, turn, cancelMessage(err), acc, writer, eventsCh, errorsCh)
			return
		}

		if turn > 1 {
			t := turn
			writer.Push(runstate.Update{
				CurrentTurn: &t,
				MetaData:    envelopeDelta(turn, core.PhaseInference),
			})
		}

		r.logger.Debug("runloop.turn.start", "run_id", runID, "turn", turn)

		respCh, errCh := r.model.Generate(ctx, model.Request{
			Instructions: r.instructions,
			Contents:     history,
			Tools:        defs,
			Stream:       true,
		})

		final, err := r.consume(ctx, runID, turn, respCh, errCh, eventsCh)
		if err != nil {
			msg := cancelMessage(err)
			if msg == "" {
				msg = fmt.Sprintf("inference failed on turn %d: %v", turn, err)
			}
			r.fail(ctx, runID, turn, msg, acc, writer, eventsCh, errorsCh)
			return
		}
		if final == nil {
			r.fail(ctx, runID, turn, fmt.Sprintf("model closed the stream without a final response on turn %d", turn), acc, writer, eventsCh, errorsCh)
			return
		}

		perCall := final.Usage.AsUsage()
		acc.AddCall(perCall)
		if perCall != nil {
			writer.Push(runstate.Update{Usage: perCall})
		}

		history = append(history, final.Content)

		calls := final.Content.FunctionCalls()
		if len(calls) == 0 {
			r.emit(ctx, eventsCh, core.NewContentEvent(runID, turn, final.Content.Text(), false))
			r.complete(ctx, runID, turn, acc, writer, eventsCh)
			return
		}

		if text := final.Content.Text(); text != "" {
			r.emit(ctx, eventsCh, core.NewContentEvent(runID, turn, text, false))
		}

		writer.Push(runstate.Update{MetaData: envelopeDelta(turn, core.PhaseToolExecution)})

		// Tool calls are dispatched sequentially in the order the model
		// requested them; each response is appended to history before the
		// next inference call.
		for _, call := range calls {
			r.emit(ctx, eventsCh, core.NewToolCallEvent(runID, turn, call.ID, call.Name))

			toolCtx := core.NewToolContext(ctx, runID, call.ID, r.pad, r.logger)

			resp, err := router.Dispatch(toolCtx, call)
			if err != nil {
				r.fail(ctx, runID, turn, err.Error(), acc, writer, eventsCh, errorsCh)
				return
			}

			r.emit(ctx, eventsCh, core.NewToolResultEvent(runID, turn, call.ID, call.Name, resp.Error))

			history = append(history, core.NewToolContent(resp))
		}
	}
}

// consume drains one inference call's streams, forwarding partial text as
// content events and returning the final response.
func (r *Runner) consume(
	ctx context.Context,
	runID string,
	turn int,
	respCh <-chan model.Response,
	errCh <-chan error,
	eventsCh chan<- core.Event,
) (*model.Response, error) {
	var final *model.Response

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				return final, nil
			}
			if resp.Partial {
				if text := resp.Content.Text(); text != "" {
					r.emit(ctx, eventsCh, core.NewContentEvent(runID, turn, text, true))
				}
				continue
			}
			f := resp
			final = &f
		case err, ok := <-errCh:
			if ok && err != nil {
				return nil, err
			}
			// Closed error channel: keep draining responses.
			errCh = nil
		}
	}
}

// complete finalizes a run that produced a clean text completion.
func (r *Runner) complete(
	ctx context.Context,
	runID string,
	turn int,
	acc *core.UsageAccumulator,
	writer *snapshot.Writer,
	eventsCh chan<- core.Event,
) {
	writer.Close()

	now := time.Now().Unix()
	total := acc.Total()
	u := runstate.Update{
		CompletedAt:  &now,
		CurrentTurn:  &turn,
		Usage:        &total,
		ReplaceUsage: true,
		MetaData:     envelopeDelta(turn, core.PhaseFinalizing),
	}
	r.commitTerminal(runID, u, core.StatusCompleted)

	r.logger.Info("runloop.run.completed", "run_id", runID, "turns", turn, "total_tokens", total.TotalTokens)

	r.emit(ctx, eventsCh, core.NewDoneEvent(runID, turn))
}

// incomplete finalizes a run whose turn budget ran out. This is a
// policy-bounded outcome, not a fault: no error is recorded and no failure
// timestamp is set.
func (r *Runner) incomplete(
	ctx context.Context,
	runID string,
	turn int,
	acc *core.UsageAccumulator,
	writer *snapshot.Writer,
	eventsCh chan<- core.Event,
) {
	writer.Close()

	total := acc.Total()
	u := runstate.Update{
		IncompleteDetails: &core.IncompleteDetails{
			Reason: fmt.Sprintf("Max turns (%d) reached without terminal tool call or clean text completion", r.maxTurns),
		},
		CurrentTurn:  &turn,
		Usage:        &total,
		ReplaceUsage: true,
		MetaData:     envelopeDelta(turn, core.PhaseFinalizing),
	}
	r.commitTerminal(runID, u, core.StatusIncomplete)

	r.logger.Info("runloop.run.incomplete", "run_id", runID, "max_turns", r.maxTurns)

	r.emit(ctx, eventsCh, core.NewDoneEvent(runID, turn))
}

// fail finalizes a faulted run. The terminal error event carries the exact
// text persisted as last_error.
func (r *Runner) fail(
	ctx context.Context,
	runID string,
	turn int,
	lastError string,
	acc *core.UsageAccumulator,
	writer *snapshot.Writer,
	eventsCh chan<- core.Event,
	errorsCh chan<- error,
) {
	writer.Close()

	now := time.Now().Unix()
	u := runstate.Update{
		FailedAt:  &now,
		LastError: &lastError,
	}
	if acc != nil {
		total := acc.Total()
		u.Usage = &total
		u.ReplaceUsage = true
	}
	if turn > 0 {
		u.CurrentTurn = &turn
		u.MetaData = envelopeDelta(turn, core.PhaseFinalizing)
	}
	r.commitTerminal(runID, u, core.StatusFailed)

	r.logger.Warn("runloop.run.failed", "run_id", runID, "turn", turn, "error", lastError)

	r.emit(ctx, eventsCh, core.NewErrorEvent(runID, lastError))

	select {
	case errorsCh <- errors.New(lastError):
	default:
	}
}

// commitTerminal applies the final merge-write and the terminal status
// transition with bounded retry. Terminal writes run on a background context
// so a cancelled run still gets its record finalized.
func (r *Runner) commitTerminal(runID string, u runstate.Update, status core.RunStatus) {
	if !u.Empty() {
		if err := r.retryWrite(runID, func(ctx context.Context) error {
			_, err := r.store.Update(ctx, runID, u)
			return err
		}); err != nil {
			r.logger.Error("runloop.terminal.update_failed", "run_id", runID, "error", err.Error())
		}
	}

	if err := r.retryWrite(runID, func(ctx context.Context) error {
		_, err := r.store.UpdateStatus(ctx, runID, status)
		return err
	}); err != nil {
		r.logger.Error("runloop.terminal.status_failed", "run_id", runID, "status", string(status), "error", err.Error())
	}
}

// retryWrite runs fn up to terminalWriteAttempts times with linear backoff.
// An ErrInvalidTransition is not retried: the record already moved on.
func (r *Runner) retryWrite(runID string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = fn(ctx)
		cancel()

		if err == nil || errors.Is(err, runstate.ErrInvalidTransition) {
			return err
		}

		r.logger.Warn("runloop.terminal.retry", "run_id", runID, "attempt", attempt, "error", err.Error())
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return err
}

// emit delivers an event to the caller. It blocks until delivered unless the
// run context is cancelled, in which case it degrades to best effort so the
// terminal error event still reaches a buffered channel.
func (r *Runner) emit(ctx context.Context, eventsCh chan<- core.Event, ev core.Event) {
	select {
	case eventsCh <- ev:
	case <-ctx.Done():
		select {
		case eventsCh <- ev:
		default:
		}
	}
}

// envelopeDelta builds the agent envelope merge payload for one turn/phase.
func envelopeDelta(turn int, phase core.Phase) map[string]any {
	return map[string]any{
		core.MetaKeyAgent: map[string]any{
			core.EnvelopeKeyTurn:  turn,
			core.EnvelopeKeyPhase: string(phase),
		},
	}
}

// cancelMessage maps a context error to the persisted cancellation text, or
// returns "" for non-cancellation errors.
func cancelMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "run cancelled by caller"
	case errors.Is(err, context.DeadlineExceeded):
		return "run deadline exceeded"
	default:
		return ""
	}
}

// toolDefinitions converts the registered tools into model-facing
// declarations.
func toolDefinitions(tools []tool.Tool) []model.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
