package axql

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/axql/axql/driver"
	"github.com/axql/axql/internal/rowstream"
)

// ErrTxDone is returned by any operation against a Tx that has already
// been committed or rolled back, mirroring database/sql.ErrTxDone (spec
// section 6 Open Question: commit/rollback on a terminated transaction
// is an error, not a silent no-op).
var ErrTxDone = errors.New("axql: transaction has already been committed or rolled back")

type txState int32

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

// Tx is a transaction or, when nested within an already-open Tx, a
// savepoint scoped to it. Nested Begin calls on the same Conn stack
// savepoints named per the spec's "_sqlx_savepoint_<depth>" convention.
type Tx struct {
	conn      *Conn
	depth     int32
	savepoint string
	state     atomic.Int32
}

// beginOn starts a new transaction, or a nested savepoint if c already
// has one open, per spec section 4.G.
func beginOn(ctx context.Context, c *Conn) (*Tx, error) {
	if c.Broken() {
		return nil, driver.ErrPoolClosed
	}
	if err := c.acquireExclusive(); err != nil {
		return nil, err
	}
	defer c.releaseExclusive()

	depth := c.txDepth.Add(1)

	var savepoint string
	if depth > 1 {
		savepoint = fmt.Sprintf("_sqlx_savepoint_%d", depth-1)
	}

	if err := c.session.Begin(ctx, savepoint); err != nil {
		c.txDepth.Add(-1)
		return nil, c.classifyAndMark(err)
	}

	tx := &Tx{conn: c, depth: depth, savepoint: savepoint}
	tx.state.Store(int32(txOpen))
	log.Debug().Int32("depth", depth).Str("savepoint", savepoint).Msg("transaction begin")
	return tx, nil
}

// Depth reports nesting depth: 1 for a top-level transaction, 2+ for
// nested savepoints.
func (tx *Tx) Depth() int32 { return tx.depth }

// Done reports whether Commit or Rollback has already resolved this Tx.
func (tx *Tx) Done() bool { return txState(tx.state.Load()) != txOpen }

// Commit commits the transaction, or releases the savepoint when this
// Tx is nested. Calling Commit on an already-resolved Tx returns
// ErrTxDone.
func (tx *Tx) Commit(ctx context.Context) error {
	if !tx.state.CompareAndSwap(int32(txOpen), int32(txCommitted)) {
		return ErrTxDone
	}
	if err := tx.conn.acquireExclusive(); err != nil {
		return err
	}
	defer tx.conn.releaseExclusive()

	tx.conn.txDepth.Add(-1)

	if err := tx.conn.session.Commit(ctx, tx.savepoint); err != nil {
		log.Warn().Err(err).Int32("depth", tx.depth).Msg("transaction commit failed")
		return tx.conn.classifyAndMark(err)
	}
	log.Debug().Int32("depth", tx.depth).Msg("transaction commit")
	return nil
}

// Rollback rolls back the transaction, or rolls back to and releases
// the savepoint when this Tx is nested. Calling Rollback on an
// already-resolved Tx returns ErrTxDone.
func (tx *Tx) Rollback(ctx context.Context) error {
	if !tx.state.CompareAndSwap(int32(txOpen), int32(txRolledBack)) {
		return ErrTxDone
	}
	if err := tx.conn.acquireExclusive(); err != nil {
		return err
	}
	defer tx.conn.releaseExclusive()

	tx.conn.txDepth.Add(-1)

	if err := tx.conn.session.Rollback(ctx, tx.savepoint); err != nil {
		log.Warn().Err(err).Int32("depth", tx.depth).Msg("transaction rollback failed")
		return tx.conn.classifyAndMark(err)
	}
	log.Debug().Int32("depth", tx.depth).Msg("transaction rollback")
	if tx.conn.hooks != nil {
		tx.conn.hooks.TxRollback()
	}
	return nil
}

// Begin opens a nested savepoint within this transaction.
func (tx *Tx) Begin(ctx context.Context) (*Tx, error) {
	if tx.Done() {
		return nil, ErrTxDone
	}
	return beginOn(ctx, tx.conn)
}

// Execute runs sql with args within this transaction's connection.
func (tx *Tx) Execute(ctx context.Context, sqlText string, args ...any) (int64, error) {
	if tx.Done() {
		return 0, ErrTxDone
	}
	return tx.conn.Execute(ctx, sqlText, args...)
}

// Fetch runs sql with args within this transaction's connection and
// returns a lazy row stream.
func (tx *Tx) Fetch(ctx context.Context, sqlText string, args ...any) (*rowstream.Stream, error) {
	if tx.Done() {
		return nil, ErrTxDone
	}
	return tx.conn.Fetch(ctx, sqlText, args...)
}
