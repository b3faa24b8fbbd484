package axql

import (
	"context"
	"errors"

	"github.com/axql/axql/internal/rowstream"
)

// ErrNoRows is returned by FetchOne when the query produced zero rows.
var ErrNoRows = errors.New("axql: query returned no rows")

// Executor is satisfied by Conn, Tx, and Pool: anything a Query can run
// against, per spec section 4.H's "query dispatch talks to whatever
// currently owns the connection" design.
type Executor interface {
	Execute(ctx context.Context, sqlText string, args ...any) (int64, error)
	Fetch(ctx context.Context, sqlText string, args ...any) (*rowstream.Stream, error)
}

// RowFunc receives a scan function bound to the current row.
type RowFunc func(scan func(dest ...any) error) error

// Query is sql bound to a fixed argument list, deferred until Execute or
// one of the Fetch* helpers runs it against an Executor.
type Query struct {
	sql  string
	args []any
}

// NewQuery binds sql and args into a reusable, executor-agnostic Query.
func NewQuery(sqlText string, args ...any) Query {
	return Query{sql: sqlText, args: args}
}

// Execute runs the query and returns the affected row count.
func (q Query) Execute(ctx context.Context, ex Executor) (int64, error) {
	return ex.Execute(ctx, q.sql, q.args...)
}

// Fetch runs the query and returns its row stream directly.
func (q Query) Fetch(ctx context.Context, ex Executor) (*rowstream.Stream, error) {
	return ex.Fetch(ctx, q.sql, q.args...)
}

// FetchAll runs the query and invokes fn once per row, stopping and
// returning fn's error if it returns non-nil.
func (q Query) FetchAll(ctx context.Context, ex Executor, fn RowFunc) error {
	stream, err := ex.Fetch(ctx, q.sql, q.args...)
	if err != nil {
		return err
	}
	defer stream.Close(ctx)

	for {
		ok, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(stream.Scan); err != nil {
			return err
		}
	}
}

// FetchOne runs the query and invokes fn exactly once, for the first
// row. ErrNoRows is returned if the query produced no rows.
func (q Query) FetchOne(ctx context.Context, ex Executor, fn RowFunc) error {
	found, err := q.FetchOptional(ctx, ex, fn)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoRows
	}
	return nil
}

// FetchOptional runs the query and invokes fn for the first row, if
// any. It returns found=false, err=nil on zero rows — the spec's
// resolution for "fetch_optional on an empty result is not an error".
func (q Query) FetchOptional(ctx context.Context, ex Executor, fn RowFunc) (bool, error) {
	stream, err := ex.Fetch(ctx, q.sql, q.args...)
	if err != nil {
		return false, err
	}
	defer stream.Close(ctx)

	ok, err := stream.Next(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(stream.Scan); err != nil {
		return false, err
	}
	return true, nil
}

// Execute acquires a connection, runs sql, and releases it back to the
// pool, per spec section 4.F: the pool itself satisfies Executor so
// callers who don't need explicit transaction control never touch
// Acquire/Release directly.
func (p *Pool) Execute(ctx context.Context, sqlText string, args ...any) (int64, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Release(conn)
	return conn.Execute(ctx, sqlText, args...)
}

// Fetch acquires a connection and runs sql, returning a stream that
// returns the connection to the pool the moment it is exhausted or
// closed — whichever comes first — mirroring how Conn itself regains
// exclusive use.
func (p *Pool) Fetch(ctx context.Context, sqlText string, args ...any) (*rowstream.Stream, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn.armPoolRelease(func() { p.Release(conn) })
	stream, err := conn.Fetch(ctx, sqlText, args...)
	if err != nil {
		// Fetch never reached the stream's release closure, so the armed
		// hook is still pending; drop it and release directly instead.
		conn.takePoolRelease()
		p.Release(conn)
		return nil, err
	}
	return stream, nil
}
