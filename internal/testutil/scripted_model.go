package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/model"
)

// ScriptedModel is a deterministic model.Model whose inference calls play
// back a pre-recorded script. Each scripted turn is either a sequence of
// responses (optionally partial chunks followed by a final) or an error.
// Calls past the end of the script fail, surfacing loops that run longer
// than the test expected.
//
// Example:
//
//	m := NewScriptedModel().
//		TextTurn("thinking...", Tokens(10, 5)).
//		ToolCallTurn(core.FunctionCall{ID: "fc-1", Name: "echo"}).
//		TextTurn("done", nil)
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []model.Request
	calls    int
}

type scriptedTurn struct {
	responses []model.Response
	err       error
	block     bool
}

// NewScriptedModel creates an empty script.
func NewScriptedModel() *ScriptedModel { return &ScriptedModel{} }

// Tokens is a shorthand for a per-call usage record.
func Tokens(prompt, completion int) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// TextTurn appends a turn emitting one partial chunk followed by a final
// text-only response (chainable).
func (m *ScriptedModel) TextTurn(text string, usage *model.TokenUsage) *ScriptedModel {
	m.turns = append(m.turns, scriptedTurn{responses: []model.Response{
		{
			Partial: true,
			Content: core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}},
		},
		{
			Content:      core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}},
			FinishReason: "stop",
			Usage:        usage,
		},
	}})
	return m
}

// ToolCallTurn appends a turn whose final response requests the given
// function calls (chainable).
func (m *ScriptedModel) ToolCallTurn(calls ...core.FunctionCall) *ScriptedModel {
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}
	m.turns = append(m.turns, scriptedTurn{responses: []model.Response{
		{
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: "tool_calls",
			Usage:        Tokens(8, 4),
		},
	}})
	return m
}

// ErrorTurn appends a turn that fails with err instead of responding (chainable).
func (m *ScriptedModel) ErrorTurn(err error) *ScriptedModel {
	m.turns = append(m.turns, scriptedTurn{err: err})
	return m
}

// BlockingTurn appends a turn that produces nothing until the call context is
// cancelled (chainable). Useful for cancellation tests.
func (m *ScriptedModel) BlockingTurn() *ScriptedModel {
	m.turns = append(m.turns, scriptedTurn{block: true})
	return m
}

// RawTurn appends a turn with explicit responses for full control (chainable).
func (m *ScriptedModel) RawTurn(responses ...model.Response) *ScriptedModel {
	m.turns = append(m.turns, scriptedTurn{responses: responses})
	return m
}

// Generate implements model.Model by replaying the next scripted turn.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	idx := m.calls
	m.calls++
	var turn scriptedTurn
	exhausted := idx >= len(m.turns)
	if !exhausted {
		turn = m.turns[idx]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if exhausted {
			errCh <- fmt.Errorf("scripted model exhausted after %d turns", idx)
			return
		}
		if turn.block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if turn.err != nil {
			errCh <- turn.err
			return
		}
		for _, resp := range turn.responses {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- resp:
			}
		}
	}()

	return respCh, errCh
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test", SupportsTools: true}
}

// Calls returns how many inference calls the model has served.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the requests observed so far, in call order.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
