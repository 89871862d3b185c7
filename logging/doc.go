// Package logging provides a minimal logging interface and adapters for runloop.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the turn loop, router and stores use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - RunLogger adding run-scoped contextual cloning helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewDefaultSlogLogger()
//	r := runner.New(m, func(o *runner.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
