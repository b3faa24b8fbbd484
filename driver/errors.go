package driver

import "fmt"

// Kind classifies a driver-surfaced failure per spec section 4.A.
type Kind int

const (
	// KindProtocol indicates a malformed or unexpected wire/native
	// response; the owning connection must be marked broken.
	KindProtocol Kind = iota
	// KindDatabase indicates the backend rejected the operation (a SQL
	// error); the connection remains usable.
	KindDatabase
	// KindIO indicates a transport failure (socket, file I/O); the
	// connection must be marked broken.
	KindIO
	// KindPoolTimedOut indicates an acquire deadline elapsed.
	KindPoolTimedOut
	// KindPoolClosed indicates the pool was closed while the caller
	// waited, or after the caller had already been issued a connection.
	KindPoolClosed
	// KindColumnDecode indicates a row value could not be decoded into
	// the requested destination type.
	KindColumnDecode
	// KindConfiguration indicates invalid driver.Options or a DSN the
	// backend could not interpret.
	KindConfiguration
	// KindWorkerCrashed indicates the SQLite statement worker goroutine
	// panicked and could not complete an in-flight step.
	KindWorkerCrashed
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindDatabase:
		return "database"
	case KindIO:
		return "io"
	case KindPoolTimedOut:
		return "pool_timed_out"
	case KindPoolClosed:
		return "pool_closed"
	case KindColumnDecode:
		return "column_decode"
	case KindConfiguration:
		return "configuration"
	case KindWorkerCrashed:
		return "worker_crashed"
	default:
		return "unknown"
	}
}

// Error is the sum type every backend and the core runtime return.
type Error struct {
	Kind Kind

	// Code, Message, Severity, Position, Routine are populated for
	// KindDatabase errors returned by the backend.
	Code     string
	Message  string
	Severity string
	Position int
	Routine  string

	// Err wraps the underlying cause, if any (e.g. a net.Error or a
	// context error).
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, &driver.Error{Kind: driver.KindPoolTimedOut}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewIOError wraps err as a KindIO driver error.
func NewIOError(err error) *Error {
	return &Error{Kind: KindIO, Err: err}
}

// NewProtocolError wraps err as a KindProtocol driver error.
func NewProtocolError(err error) *Error {
	return &Error{Kind: KindProtocol, Err: err}
}

// NewDatabaseError constructs a KindDatabase error from backend fields.
func NewDatabaseError(code, message, severity string) *Error {
	return &Error{Kind: KindDatabase, Code: code, Message: message, Severity: severity}
}

// ErrPoolTimedOut is a sentinel for errors.Is comparisons.
var ErrPoolTimedOut = &Error{Kind: KindPoolTimedOut, Message: "pool: timed out waiting for a connection"}

// ErrPoolClosed is a sentinel for errors.Is comparisons.
var ErrPoolClosed = &Error{Kind: KindPoolClosed, Message: "pool: closed"}

// ErrWorkerCrashed is a sentinel for errors.Is comparisons.
var ErrWorkerCrashed = &Error{Kind: KindWorkerCrashed, Message: "sqlite statement worker crashed"}
