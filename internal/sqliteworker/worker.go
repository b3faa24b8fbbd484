// Package sqliteworker isolates blocking sqlite3_step-equivalent calls
// from the caller's goroutine, per spec section 4.D.
//
// Why one variant, not two: the sqlx reference implements both a
// dedicated-OS-thread variant (atomic state word + park/unpark) and a
// blocking-task-bridge variant for runtimes that expose a "run this on a
// thread pool" primitive (tokio::task::spawn_blocking). Go has no runtime
// primitive in that second shape — there is no general "blocking thread
// pool" distinct from goroutines, because the Go scheduler already moves
// blocked Ms off Ps transparently for syscalls. The closest Go idiom to
// "pin blocking native work to one thread, decoupled from the caller" is
// a dedicated goroutine calling runtime.LockOSThread, communicating
// through a channel — which is also exactly the shape the teacher repo
// already uses for its single-writer serialization
// (internal/database/db.go's writerLoop/writeCh). Modeling a second,
// channel-free variant here would just be the same goroutine without the
// LockOSThread call — a distinction without a difference — so this
// package implements only the dedicated-goroutine variant, and a Go
// channel receive plays the role of the spec's "cooperative yield loop":
// it already suspends the caller without busy-polling, which is strictly
// better than the poll loop the spec describes while preserving the same
// ordering guarantees (store-before-signal happens-before load-after-receive,
// enforced by the channel itself rather than manual acquire/release atomics).
package sqliteworker

import (
	"context"
	"fmt"
	"runtime"
)

// StepFunc performs one blocking step call against the backend statement
// and reports its result. It must not be called from any goroutine other
// than the worker's.
type StepFunc func() (StepResult, error)

// StepResult mirrors the sqlite3_step outcomes the spec names.
type StepResult int

const (
	StepRow StepResult = iota
	StepDone
)

type job struct {
	step   StepFunc
	result chan<- stepOutcome
}

type stepOutcome struct {
	res StepResult
	err error
}

// Worker runs at most one in-flight Step at a time for one connection,
// on a dedicated goroutine pinned to an OS thread.
type Worker struct {
	jobs   chan job
	closed chan struct{}
	done   chan struct{}
	panicV chan any
}

// Start launches the worker goroutine. Callers must call Close before
// releasing the connection's driver handles, to avoid a use-after-free on
// the native statement the worker may still be referencing.
func Start() *Worker {
	w := &Worker{
		jobs:   make(chan job),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		panicV: make(chan any, 1),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	defer func() {
		if r := recover(); r != nil {
			select {
			case w.panicV <- r:
			default:
			}
		}
	}()

	for {
		select {
		case j, ok := <-w.jobs:
			if !ok {
				return
			}
			res, err := j.step()
			j.result <- stepOutcome{res: res, err: err}
		case <-w.closed:
			return
		}
	}
}

// Step submits step to the worker and blocks the caller until the result
// is known or ctx is done. Invariant: at most one Step call is in flight
// per Worker at a time — callers serialize through the owning Conn.
func (w *Worker) Step(ctx context.Context, step StepFunc) (StepResult, error) {
	select {
	case r := <-w.panicV:
		w.panicV <- r // put back for subsequent callers
		return 0, fmt.Errorf("sqliteworker: worker already crashed")
	default:
	}

	resultCh := make(chan stepOutcome, 1)
	select {
	case w.jobs <- job{step: step, result: resultCh}:
	case <-w.closed:
		return 0, fmt.Errorf("sqliteworker: worker closed")
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case out := <-resultCh:
		return out.res, out.err
	case <-ctx.Done():
		// The worker is still blocked performing a non-interruptible
		// native step (spec: "the worker finishes the current step
		// (non-interruptible)"); we stop waiting for it here but the
		// goroutine keeps running until that step call returns, then
		// idles for the next job. The caller must treat this connection
		// as needing reset per the row stream cancellation contract.
		return 0, ctx.Err()
	case r := <-w.panicV:
		w.panicV <- r // put back for subsequent callers
		return 0, fmt.Errorf("sqliteworker: worker crashed: %v", r)
	}
}

// Close terminates the worker and joins its goroutine, guaranteeing no
// step call is still touching the native statement before the caller
// releases driver handles.
func (w *Worker) Close() {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
	<-w.done
}

// Crashed reports whether the worker goroutine has panicked.
func (w *Worker) Crashed() bool {
	select {
	case r := <-w.panicV:
		w.panicV <- r
		return true
	default:
		return false
	}
}
