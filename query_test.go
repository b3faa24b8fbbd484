package axql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedItems(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()
	_, err := conn.Execute(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = conn.Execute(ctx, "INSERT INTO items (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c')")
	require.NoError(t, err)
}

func TestQuery_FetchAllVisitsEveryRow(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	seedItems(t, conn)

	var names []string
	q := NewQuery("SELECT name FROM items ORDER BY id")
	err := q.FetchAll(ctx, conn, func(scan func(dest ...any) error) error {
		var name string
		if err := scan(&name); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestQuery_FetchOneReturnsFirstRow(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	seedItems(t, conn)

	var name string
	q := NewQuery("SELECT name FROM items WHERE id = ?", 2)
	err := q.FetchOne(ctx, conn, func(scan func(dest ...any) error) error {
		return scan(&name)
	})
	require.NoError(t, err)
	assert.Equal(t, "b", name)
}

func TestQuery_FetchOneErrorsOnNoRows(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	seedItems(t, conn)

	q := NewQuery("SELECT name FROM items WHERE id = ?", 999)
	err := q.FetchOne(ctx, conn, func(scan func(dest ...any) error) error { return nil })
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestQuery_FetchOptionalFoundFalseOnEmptyResult(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	seedItems(t, conn)

	called := false
	q := NewQuery("SELECT name FROM items WHERE id = ?", 999)
	found, err := q.FetchOptional(ctx, conn, func(scan func(dest ...any) error) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, called)
}

func TestQuery_FetchOptionalFoundTrueWithRow(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	seedItems(t, conn)

	var name string
	q := NewQuery("SELECT name FROM items WHERE id = ?", 1)
	found, err := q.FetchOptional(ctx, conn, func(scan func(dest ...any) error) error {
		return scan(&name)
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", name)
}

func TestPool_ExecuteAndFetchAcquireAndReleaseAutomatically(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t, 0, 2)

	_, err := pool.Execute(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = pool.Execute(ctx, "INSERT INTO items (id) VALUES (1)")
	require.NoError(t, err)

	stream, err := pool.Fetch(ctx, "SELECT id FROM items")
	require.NoError(t, err)

	ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, pool.Stats().Idle)
	assert.Equal(t, 0, pool.Stats().InUse)
}

func TestPool_FetchReleasesConnectionOnExplicitClose(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t, 0, 1)

	_, err := pool.Execute(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = pool.Execute(ctx, "INSERT INTO items (id) VALUES (1), (2)")
	require.NoError(t, err)

	stream, err := pool.Fetch(ctx, "SELECT id FROM items")
	require.NoError(t, err)
	require.NoError(t, stream.Close(ctx))

	assert.Equal(t, 1, pool.Stats().Idle)
	assert.Equal(t, 0, pool.Stats().InUse)
}
