// Package eauerr defines the error taxonomy shared by every eau2 component
// (§7 of the spec this module implements). Errors are sentinel values
// wrapped with github.com/cockroachdb/errors so callers get a stack trace
// the first time an error is created and can still match it with errors.Is
// anywhere downstream.
package eauerr

import "github.com/cockroachdb/errors"

// Sentinel errors. Match with errors.Is; do not compare by string.
var (
	// Malformed is returned by the Codec when an input cannot be parsed.
	Malformed = errors.New("eau2: malformed value")

	// TypeMismatch is returned by typed dataframe/column accessors when the
	// requested type disagrees with the column's type tag, or when a row's
	// schema disagrees with the dataframe's.
	TypeMismatch = errors.New("eau2: type mismatch")

	// OutOfBounds is returned for a column/row index outside its valid range.
	OutOfBounds = errors.New("eau2: index out of bounds")

	// Sealed is returned when append is called on a sealed chunked column.
	Sealed = errors.New("eau2: column is sealed")

	// NotSealed is returned when get is called on a column still open.
	NotSealed = errors.New("eau2: column is not sealed")

	// KeyNotFound is returned by a local store lookup with no value.
	KeyNotFound = errors.New("eau2: key not found")

	// PeerUnknown is returned by send_to when there is no connection to dst.
	PeerUnknown = errors.New("eau2: peer unknown")

	// FrameTooLarge is returned when a received frame exceeds the receive
	// buffer. Recoverable: only the offending connection is closed.
	FrameTooLarge = errors.New("eau2: frame exceeds receive buffer")

	// TransportClosed is returned on unexpected EOF on a peer socket.
	// Recoverable: only the offending connection is closed.
	TransportClosed = errors.New("eau2: transport closed")

	// WrongHome is returned when a Put/Get/WaitAndGet arrives at a node
	// that is not the key's home. Indicates a client bug.
	WrongHome = errors.New("eau2: message delivered to wrong home node")
)

// Wrapf attaches msg (with fmt-style args) as context to cause while
// preserving errors.Is/As matching against cause.
func Wrapf(cause error, msg string, args ...any) error {
	return errors.Wrapf(cause, msg, args...)
}

// Fatal reports whether err represents a programmer-bug condition that
// implementations SHOULD fail fast on, per §7's propagation policy, as
// opposed to a transport-local condition the node should keep running
// after (PeerUnknown, FrameTooLarge, TransportClosed) or a caller-visible
// result (KeyNotFound).
func Fatal(err error) bool {
	switch {
	case errors.Is(err, Malformed),
		errors.Is(err, TypeMismatch),
		errors.Is(err, OutOfBounds),
		errors.Is(err, Sealed),
		errors.Is(err, NotSealed),
		errors.Is(err, WrongHome):
		return true
	default:
		return false
	}
}

// TransportLocal reports whether err should close only the offending
// connection and release its pending waiters, leaving the node running.
func TransportLocal(err error) bool {
	return errors.Is(err, PeerUnknown) || errors.Is(err, FrameTooLarge) || errors.Is(err, TransportClosed)
}
