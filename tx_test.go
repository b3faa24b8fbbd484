package axql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTx_CommitPersistsChanges(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	_, err := conn.Execute(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, int64(1), countRows(t, conn, "t"))
}

func TestTx_RollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	_, err := conn.Execute(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, int64(0), countRows(t, conn, "t"))
}

// TestTx_NestedSavepointRollback mirrors the spec scenario: BEGIN, insert
// id=50, open a nested savepoint, insert id=10, roll back just the
// savepoint, then commit the outer transaction — only id=50 survives.
func TestTx_NestedSavepointRollback(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	_, err := conn.Execute(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	outer, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = outer.Execute(ctx, "INSERT INTO t (id) VALUES (50)")
	require.NoError(t, err)

	inner, err := outer.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.Depth())
	_, err = inner.Execute(ctx, "INSERT INTO t (id) VALUES (10)")
	require.NoError(t, err)
	require.NoError(t, inner.Rollback(ctx))

	require.NoError(t, outer.Commit(ctx))

	assert.Equal(t, int64(1), countRows(t, conn, "t"))
}

func TestTx_OperationsAfterCommitReturnErrTxDone(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	_, err := conn.Execute(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
	_, err = tx.Execute(ctx, "INSERT INTO t (id) VALUES (1)")
	assert.ErrorIs(t, err, ErrTxDone)
}

func countRows(t *testing.T, conn *Conn, table string) int64 {
	t.Helper()
	ctx := context.Background()
	stream, err := conn.Fetch(ctx, "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	defer stream.Close(ctx)

	ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var n int64
	require.NoError(t, stream.Scan(&n))
	return n
}
