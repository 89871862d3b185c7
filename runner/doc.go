// Package runner implements the turn loop: the sequential driver that owns a
// run from the moment it leaves queued until it reaches a terminal state. It
// alternates inference and tool execution, streams events to the caller, and
// is the only component that performs terminal writes against the run store.
package runner
