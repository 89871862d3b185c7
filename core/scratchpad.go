package core

// ScratchpadStore is the ancillary key-value service some tools share within
// a run (for example, to pass intermediate findings between tool calls in the
// same turn). The orchestrator core never touches it directly; tools reach it
// through their ToolContext.
type ScratchpadStore interface {
	// Get returns the value for key and whether it exists.
	Get(runID, key string) (any, bool)

	// Set stores a value under key.
	Set(runID, key string, value any) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(runID, key string) error

	// Keys returns all keys for runID in unspecified order.
	Keys(runID string) []string
}
