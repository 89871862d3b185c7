package core

import "sync"

// UsageAccumulator folds per-call token metrics into a running total for one
// run. Providers report usage inconsistently (missing fields, or no usage at
// all), so the accumulator normalizes at this boundary: nil records and zero
// fields add zero, and absence is never an error.
//
// Turns counts inference calls, incremented exactly once per AddCall
// regardless of whether the provider reported usage. Safe for concurrent use.
type UsageAccumulator struct {
	mu    sync.Mutex
	total Usage
}

// NewUsageAccumulator returns an accumulator with a zeroed total.
func NewUsageAccumulator() *UsageAccumulator { return &UsageAccumulator{} }

// AddCall folds one inference call's usage into the running total. A nil
// record still counts the call (the model was invoked, the provider just did
// not report usage). When a provider omits TotalTokens it is derived from the
// prompt/completion sum.
func (a *UsageAccumulator) AddCall(u *Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total.Turns++
	if u == nil {
		return
	}

	a.total.PromptTokens += u.PromptTokens
	a.total.CompletionTokens += u.CompletionTokens
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	a.total.TotalTokens += total
}

// Total returns a copy of the running total for the final flush.
func (a *UsageAccumulator) Total() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Turns returns the number of completed inference calls recorded so far.
func (a *UsageAccumulator) Turns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total.Turns
}
