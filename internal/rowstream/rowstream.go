// Package rowstream implements the lazy, single-pass row cursor
// described in spec section 4.C, layered over a driver.Rows cursor.
package rowstream

import (
	"context"
	"errors"
	"sync"

	"github.com/axql/axql/driver"
)

// ErrClosed is returned by Next/Scan once the stream has been closed,
// either explicitly or by exhaustion.
var ErrClosed = errors.New("rowstream: closed")

// BrokenFunc is invoked when Close must cancel a non-exhausted cursor and
// the underlying drain/reset fails — the connection that produced this
// stream can no longer be trusted and must be marked broken.
type BrokenFunc func(err error)

// Stream wraps a driver.Rows cursor with the borrow/cancel-safety rules
// of spec section 4.C. A Stream must not outlive the connection that
// produced it, and the connection must treat itself as borrowed
// (exclusively owned by this Stream) until Close returns.
type Stream struct {
	mu        sync.Mutex
	rows      driver.Rows
	exhausted bool
	closed    bool
	onBroken  BrokenFunc
	release   func() // returns exclusive ownership of the connection
}

// New wraps rows. release is called exactly once, when the stream is
// closed (whether by exhaustion or explicit Close), to return exclusive
// use of the connection to its normal idle/usable state.
func New(rows driver.Rows, onBroken BrokenFunc, release func()) *Stream {
	return &Stream{rows: rows, onBroken: onBroken, release: release}
}

// Next advances to the next row. It suspends the caller (via ctx or
// internal backend I/O) until the next row or end-of-stream is known.
// On a clean end-of-stream it auto-releases the connection, since no
// further borrow is needed.
func (s *Stream) Next(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.exhausted {
		return false, nil
	}

	ok, err := s.rows.Next(ctx)
	if err != nil {
		s.finishLocked(err)
		return false, err
	}
	if !ok {
		s.exhausted = true
		s.finishLocked(nil)
		return false, nil
	}
	return true, nil
}

// Scan copies the current row's columns into dest. Valid only between a
// Next call that returned true and the following Next/Close — the
// columns are borrowed from the producing statement's current row slot
// per spec section 3 and are invalidated by the next advance.
func (s *Stream) Scan(dest ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.rows.Scan(dest...)
}

// RowsAffected returns the terminal rows-affected signal. Valid once Next
// has returned (false, nil).
func (s *Stream) RowsAffected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows.RowsAffected()
}

// Close cancels the stream. If it was not exhausted, the underlying
// driver.Rows drains pending I/O (Postgres) or resets the statement
// (SQLite); failure is reported via onBroken rather than returned, since
// Close must always leave the connection in a known state (usable or
// broken) per spec section 8's "never half-read" invariant. Close is
// idempotent.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	var drainErr error
	if !s.exhausted {
		drainErr = s.rows.Close(ctx)
	}
	s.finishLocked(drainErr)
	return nil
}

// finishLocked performs the one-time close bookkeeping. Must be called
// with s.mu held.
func (s *Stream) finishLocked(drainErr error) {
	if s.closed {
		return
	}
	s.closed = true
	if drainErr != nil && s.onBroken != nil {
		s.onBroken(drainErr)
	}
	if s.release != nil {
		s.release()
	}
}
