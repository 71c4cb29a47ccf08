// Package memory provides an in-process pubsub implementation with durable
// consumer semantics, used for standalone runs and tests.
package memory

import "errors"

var (
	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNoStream is returned when a subject is bound to no stream.
	ErrNoStream = errors.New("no stream matches subject")
)
