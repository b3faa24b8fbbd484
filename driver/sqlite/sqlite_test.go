package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axql/axql/driver"
)

func openTestSession(t *testing.T) driver.Session {
	t.Helper()
	backend := Backend{}
	s, err := backend.Open(context.Background(), driver.Options{DataSource: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_PrepareExecuteFetch(t *testing.T) {
	ctx := context.Background()
	s := openTestSession(t)

	create, err := s.Prepare(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = s.Execute(ctx, create, nil)
	require.NoError(t, err)
	require.NoError(t, create.Finalize(ctx))

	insert, err := s.Prepare(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)")
	require.NoError(t, err)
	n, err := s.Execute(ctx, insert, []any{1, "sprocket"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, insert.Finalize(ctx))

	sel, err := s.Prepare(ctx, "SELECT id, name FROM widgets ORDER BY id")
	require.NoError(t, err)
	rs, err := s.Fetch(ctx, sel, nil)
	require.NoError(t, err)

	ok, err := rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var id int
	var name string
	require.NoError(t, rs.Scan(&id, &name))
	require.Equal(t, 1, id)
	require.Equal(t, "sprocket", name)

	ok, err = rs.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(1), rs.RowsAffected(), "end-of-stream should report changes() from the preceding 1-row insert as a terminal signal")

	require.NoError(t, rs.Close(ctx))
	require.NoError(t, sel.Finalize(ctx))
}

// TestSession_FetchRowsAffectedReflectsMostRecentWrite verifies
// RowsAffected on a Fetch stream tracks sqlite3_changes() semantics: a
// read-only SELECT leaves the counter at whatever the last INSERT,
// UPDATE, or DELETE on the session set it to, rather than reflecting
// the number of rows the SELECT itself returned.
func TestSession_FetchRowsAffectedReflectsMostRecentWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestSession(t)

	create, err := s.Prepare(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = s.Execute(ctx, create, nil)
	require.NoError(t, err)

	insert3, err := s.Prepare(ctx, "INSERT INTO widgets (id) VALUES (?), (?), (?)")
	require.NoError(t, err)
	n, err := s.Execute(ctx, insert3, []any{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	count, err := s.Prepare(ctx, "SELECT COUNT(*) FROM widgets")
	require.NoError(t, err)
	rs, err := s.Fetch(ctx, count, nil)
	require.NoError(t, err)
	ok, err := rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = rs.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(3), rs.RowsAffected(), "a read-only SELECT must not reset changes() away from the last write")
	require.NoError(t, rs.Close(ctx))
	require.NoError(t, count.Finalize(ctx))

	insert1, err := s.Prepare(ctx, "INSERT INTO widgets (id) VALUES (?)")
	require.NoError(t, err)
	n, err = s.Execute(ctx, insert1, []any{4})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	sel, err := s.Prepare(ctx, "SELECT id FROM widgets WHERE id = ?")
	require.NoError(t, err)
	rs, err = s.Fetch(ctx, sel, []any{4})
	require.NoError(t, err)
	ok, err = rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = rs.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(1), rs.RowsAffected(), "must track the single-row insert, not the earlier 3-row insert")

	require.NoError(t, rs.Close(ctx))
	require.NoError(t, sel.Finalize(ctx))
}

func TestSession_TransactionAndSavepoint(t *testing.T) {
	ctx := context.Background()
	s := openTestSession(t)

	create, err := s.Prepare(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = s.Execute(ctx, create, nil)
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx, ""))

	insert, err := s.Prepare(ctx, "INSERT INTO t (id) VALUES (?)")
	require.NoError(t, err)
	_, err = s.Execute(ctx, insert, []any{50})
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx, "_sqlx_savepoint_1"))
	_, err = s.Execute(ctx, insert, []any{10})
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx, "_sqlx_savepoint_1"))

	count, err := s.Prepare(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	rs, err := s.Fetch(ctx, count, nil)
	require.NoError(t, err)
	ok, err := rs.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	var n int
	require.NoError(t, rs.Scan(&n))
	require.Equal(t, 1, n)
	require.NoError(t, rs.Close(ctx))

	require.NoError(t, s.Commit(ctx, ""))
}
