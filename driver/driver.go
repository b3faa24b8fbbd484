// Package driver defines the narrow contract every backend (SQLite,
// Postgres) implements. The core runtime never speaks a wire protocol or
// links a native library directly; it only ever calls through this
// interface, which mirrors spec section 4.A.
package driver

import "context"

// Session is an open, single-threaded backend connection. Concurrent
// calls against the same Session are forbidden at this layer — the
// Connection type above this package enforces exclusivity.
type Session interface {
	// Ping performs a round-trip against the backend to confirm liveness.
	Ping(ctx context.Context) error

	// Prepare compiles sql into a backend-owned handle.
	Prepare(ctx context.Context, sql string) (Stmt, error)

	// Execute runs stmt against args and returns the number of affected rows.
	Execute(ctx context.Context, stmt Stmt, args []any) (int64, error)

	// Fetch runs stmt against args and returns a lazily-advanced row cursor.
	Fetch(ctx context.Context, stmt Stmt, args []any) (Rows, error)

	// Begin starts a transaction or, when savepoint is non-empty, a nested
	// savepoint within an already-open transaction.
	Begin(ctx context.Context, savepoint string) error

	// Commit commits the outermost transaction, or releases savepoint when
	// savepoint is non-empty.
	Commit(ctx context.Context, savepoint string) error

	// Rollback rolls back the outermost transaction, or rolls back to and
	// releases savepoint when savepoint is non-empty.
	Rollback(ctx context.Context, savepoint string) error

	// Close releases the session. Idempotent.
	Close() error
}

// Stmt is an opaque, backend-owned prepared statement handle. It is owned
// by exactly one Session and must never outlive it; Finalize must be
// called exactly once, before the handle is discarded.
type Stmt interface {
	// NumInput reports the statement's parameter count, -1 if unknown.
	NumInput() int

	// Finalize releases backend resources held by the statement.
	Finalize(ctx context.Context) error
}

// Rows is a forward-only, single-pass cursor over a statement's result.
// Advancement suspends the caller (via ctx or internal I/O) until the
// next row or end-of-stream is known.
type Rows interface {
	// Columns returns column names, valid after the first successful Next.
	Columns() []string

	// Next advances to the next row. It returns false, nil at a clean
	// end-of-stream; false, err on failure.
	Next(ctx context.Context) (bool, error)

	// Scan copies the current row's column values into dest.
	Scan(dest ...any) error

	// RowsAffected is the terminal rows-affected signal, valid once Next
	// has returned false with a nil error.
	RowsAffected() int64

	// Close cancels the cursor. If the stream was not exhausted, Close
	// must drain pending backend I/O (Postgres) or reset the statement
	// (SQLite) so the session returns to an idle, usable state; failure
	// to do so is reported so the caller can mark the owning connection
	// broken.
	Close(ctx context.Context) error
}

// Driver opens Sessions for one backend.
type Driver interface {
	// Name identifies the backend, e.g. "sqlite" or "postgres".
	Name() string

	// Open establishes a new Session per opts.
	Open(ctx context.Context, opts Options) (Session, error)
}

// Options carries backend connection parameters resolved by internal/dsn.
type Options struct {
	// DataSource is the backend-specific connection target: a filesystem
	// path (SQLite) or host:port (Postgres).
	DataSource string

	// Database selects the database/schema for backends that have one.
	Database string

	// Username, Password authenticate the session.
	Username string
	Password string

	// Params carries backend-specific tuning (e.g. Postgres sslmode).
	Params map[string]string
}
