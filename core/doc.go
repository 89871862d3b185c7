// Package core contains the shared data model for runloop: the durable Run
// record and its lifecycle vocabulary, role-based conversation content with
// polymorphic parts, the stream Event emitted to callers while a run is in
// flight, the usage accumulator, and the tool invocation context.
//
// Higher layers (runstate, snapshot, tool, runner) depend on core; core
// depends only on logging and the standard library.
package core
