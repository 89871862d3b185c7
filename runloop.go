// Package runloop provides a high-level façade over the turn loop and its
// services (run state, scratchpad & logging) enabling rapid construction of
// tool-using agentic runs. Most applications interact with this package by:
//  1. Creating an Orchestrator via New() (optionally overriding default in-memory services)
//  2. Registering the tools a run may call
//  3. Invoking runs asynchronously (Invoke) or synchronously (InvokeSync)
//
// The façade delegates orchestration to runner.Runner while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable run store and a
// structured logger.
package runloop

import (
	"context"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/logging"
	"github.com/oru-labs/runloop/model"
	"github.com/oru-labs/runloop/runner"
	"github.com/oru-labs/runloop/runstate"
	"github.com/oru-labs/runloop/scratchpad"
	"github.com/oru-labs/runloop/tool"
)

// Options configures the Orchestrator instance.
type Options struct {
	// MaxTurns bounds loop iterations before a run ends incomplete. Runs
	// that exhaust the budget finalize as incomplete, not failed.
	MaxTurns int

	// EventBufferSize sets the channel buffer size for event delivery.
	// Larger buffers reduce blocking but increase memory usage.
	EventBufferSize int

	// Instructions is the system prompt applied to every run.
	Instructions string

	// Stores (defaults to in-memory implementations if not provided)
	RunStore   runstate.Store
	Scratchpad core.ScratchpadStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Orchestrator is the high-level façade aggregating the turn loop and its services.
type Orchestrator struct {
	opts   Options
	runner *runner.Runner
	tools  []tool.Tool
}

// New creates a new Orchestrator driving the given model, with optional
// overrides. Any unset service is initialized with an in-memory implementation.
func New(m model.Model, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxTurns:        200,
		EventBufferSize: 100,
		RunStore:        runstate.NewInMemoryStore(),
		Scratchpad:      scratchpad.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(m, func(o *runner.Options) {
		o.MaxTurns = opts.MaxTurns
		o.EventBufferSize = opts.EventBufferSize
		o.Instructions = opts.Instructions
		o.Store = opts.RunStore
		o.Scratchpad = opts.Scratchpad
		o.Logger = opts.Logger
	})

	return &Orchestrator{opts: opts, runner: r}
}

// RegisterTool adds a tool to the manifest used by subsequent runs.
func (o *Orchestrator) RegisterTool(t tool.Tool) { o.tools = append(o.tools, t) }

// Invoke starts an asynchronous run returning event & error channels.
func (o *Orchestrator) Invoke(
	ctx context.Context,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	return o.runner.Start(ctx, userContent, o.tools)
}

// InvokeSync is a synchronous helper that drains the async channels,
// accumulates events and returns the run id.
func (o *Orchestrator) InvokeSync(
	ctx context.Context,
	userContent core.Content,
) (string, []core.Event, error) {
	runID, eventsCh, errorsCh, err := o.runner.Start(ctx, userContent, o.tools)
	if err != nil {
		return "", nil, err
	}

	// Collect all events until completion
	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			// Context cancelled - return events collected so far
			return runID, events, ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				// Events channel closed - check for terminal error
				select {
				case err := <-errorsCh:
					return runID, events, err
				default:
					return runID, events, nil // Successful completion
				}
			}
			// Collect event
			events = append(events, event)

		case err := <-errorsCh:
			// Terminal error occurred
			if err != nil {
				return runID, events, err
			}
		}
	}
}

// GetRun returns the current snapshot of a run.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*core.Run, error) {
	return o.runner.Store().Get(ctx, runID)
}

// ListRuns returns run snapshots matching the filter, ordered by creation time.
func (o *Orchestrator) ListRuns(ctx context.Context, f runstate.Filter) ([]*core.Run, error) {
	return o.runner.Store().List(ctx, f)
}

// Cancel cancels an in-flight run. The run finalizes as failed with a
// cancellation message in last_error.
func (o *Orchestrator) Cancel(runID string) error {
	return o.runner.Cancel(runID)
}
