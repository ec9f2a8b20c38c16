// Package contracts defines the boundary between the MockForge consistency
// core and its protocol adapters (HTTP, WebSocket, gRPC, GraphQL — none of
// which live in this module). Adapters depend only on the interfaces and
// error types declared here, never on internal/ packages directly, the
// same split the teacher repo uses between its pkg/ and internal/ trees so
// a downstream consumer can extend the core without reaching into its
// implementation.
package contracts

import "fmt"

// InvalidInputError wraps a caller mistake: a bad workspace ID, a malformed
// pattern, a ratio out of range. Never logged as an error by the core.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// NotFoundError wraps a missing workspace/request/response/entity/persona.
// Query paths prefer returning (nil, nil); mutation targets that must
// exist return this explicitly.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// AlreadyExistsError wraps a workspace-registration collision. Only the
// default workspace may be auto-created past this error.
type AlreadyExistsError struct {
	Entity string
	Key    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.Key)
}

// LimitExceededError wraps max-workspaces, queue-full, or broadcast-
// capacity exhaustion. For broadcast overflow the slow subscriber is
// demoted; the publisher never observes this as an error.
type LimitExceededError struct {
	Limit string
	Value int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded: %s (%d)", e.Limit, e.Value)
}

// AdapterFailureError wraps a protocol adapter's on_state_change error. It
// is logged at error level by the Consistency Engine; the triggering state
// mutation is never rolled back.
type AdapterFailureError struct {
	Adapter string
	Cause   error
}

func (e *AdapterFailureError) Error() string {
	return fmt.Sprintf("adapter %q failed to apply state change: %v", e.Adapter, e.Cause)
}

func (e *AdapterFailureError) Unwrap() error { return e.Cause }

// UpstreamError wraps a proxy target failure or timeout. The protocol
// adapter chooses fall-back (mock response) or propagation based on the
// active migration mode.
type UpstreamError struct {
	URL   string
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %q failed: %v", e.URL, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// InternalError wraps a violated internal invariant (e.g. the scrubber
// produced non-UTF-8 where UTF-8 was required). It carries the invariant's
// name and cause; no package in this module constructs it, and no build
// mode panics on it.
type InternalError struct {
	Invariant string
	Cause     error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s: %v", e.Invariant, e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }
