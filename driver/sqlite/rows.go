package sqlite

import (
	"context"
	"database/sql"

	"github.com/axql/axql/driver"
	"github.com/axql/axql/internal/sqliteworker"
)

type rows struct {
	rows     *sql.Rows
	conn     *sql.Conn
	worker   *sqliteworker.Worker
	cols     []string
	affected int64
	done     bool
}

func newRows(r *sql.Rows, c *sql.Conn, w *sqliteworker.Worker) *rows {
	return &rows{rows: r, conn: c, worker: w}
}

func (r *rows) Columns() []string {
	if r.cols == nil {
		r.cols, _ = r.rows.Columns()
	}
	return r.cols
}

func (r *rows) Next(ctx context.Context) (bool, error) {
	if r.done {
		return false, nil
	}

	var ok bool
	_, err := r.worker.Step(ctx, func() (sqliteworker.StepResult, error) {
		ok = r.rows.Next()
		if ok {
			return sqliteworker.StepRow, nil
		}
		if rowsErr := r.rows.Err(); rowsErr != nil {
			return sqliteworker.StepDone, rowsErr
		}
		// sqlite3_changes() reports the most recently completed
		// statement's change count, so the cursor must be closed
		// before this query can see it.
		if closeErr := r.rows.Close(); closeErr != nil {
			return sqliteworker.StepDone, closeErr
		}
		return sqliteworker.StepDone, r.conn.QueryRowContext(ctx, "SELECT changes()").Scan(&r.affected)
	})
	if err != nil {
		return false, classifyError(err)
	}
	if !ok {
		r.done = true
	}
	return ok, nil
}

func (r *rows) Scan(dest ...any) error {
	return classifyError(r.rows.Scan(dest...))
}

func (r *rows) RowsAffected() int64 { return r.affected }

func (r *rows) Close(context.Context) error {
	if err := r.rows.Close(); err != nil {
		return driver.NewIOError(err)
	}
	return nil
}
