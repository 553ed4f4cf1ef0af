package matching

import (
	"errors"
	"fmt"
)

// Candidate is one participant eligible for pairing.
type Candidate struct {
	ID string
	// Group is the organisational unit used to prefer cross-group pairs.
	Group string
	// Avoid lists candidate IDs this candidate should not be paired with.
	Avoid []string
}

// Pair is two distinct candidate IDs.
type Pair struct {
	A string `cbor:"a" json:"a"`
	B string `cbor:"b" json:"b"`
}

// ResultKind distinguishes a usable remote answer from an unavailable one.
type ResultKind int

const (
	// KindUnavailable means the remote capability could not produce pairs.
	KindUnavailable ResultKind = iota
	// KindMatched means the remote capability returned pairs.
	KindMatched
)

// Result is the two-variant outcome of a remote matching call.
type Result struct {
	Kind  ResultKind
	Pairs []Pair
	// Reason explains an unavailable result. It is never surfaced to callers
	// of the Adapter.
	Reason error
}

// Matched wraps a remote pairing.
func Matched(pairs []Pair) Result {
	return Result{Kind: KindMatched, Pairs: pairs}
}

// Unavailable records why the remote pairing cannot be used.
func Unavailable(reason error) Result {
	return Result{Kind: KindUnavailable, Reason: reason}
}

// ErrRemoteDisabled is the reason reported when no remote service is configured.
var ErrRemoteDisabled = errors.New("matching: remote service not configured")

// ExternalServiceError describes a failed remote matching call.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("matching: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("matching: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
