// Package sqlite adapts modernc.org/sqlite to the driver.Driver contract.
//
// modernc.org/sqlite's only stable, exported surface is the
// database/sql/driver contract it registers under the "sqlite" name; its
// statement/connection internals are unexported. Rather than guess at
// those internals, this backend opens a *sql.DB capped to exactly one
// physical connection and drives that single *sql.Conn directly —
// database/sql's own pool is neutralized (SetMaxOpenConns(1)) so this
// backend's pooling, caching, and transaction semantics are entirely
// this module's, layered one level above database/sql's connection
// object instead of below it. See DESIGN.md for the full rationale.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/axql/axql/driver"
	"github.com/axql/axql/internal/sqliteworker"
)

// Backend implements driver.Driver for SQLite.
type Backend struct{}

func (Backend) Name() string { return "sqlite" }

func (Backend) Open(ctx context.Context, opts driver.Options) (driver.Session, error) {
	dsn := filenameFor(opts.DataSource)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, driver.NewIOError(fmt.Errorf("sqlite: open %q: %w", dsn, err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, driver.NewIOError(fmt.Errorf("sqlite: acquire connection: %w", err))
	}

	s := &session{db: db, conn: conn, worker: sqliteworker.Start()}
	if err := s.applyPragmas(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// filenameFor implements the SQLite filename conventions of spec section
// 6: ":memory:" is a private in-memory DB, "" is a private on-disk temp
// DB, anything else is a file path.
func filenameFor(name string) string {
	switch name {
	case ":memory:":
		return "file::memory:?cache=private"
	case "":
		return "" // modernc.org/sqlite opens an anonymous on-disk temp DB for ""
	default:
		return name
	}
}

var connectionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

type session struct {
	db     *sql.DB
	conn   *sql.Conn
	worker *sqliteworker.Worker
	txOpen bool
}

func (s *session) applyPragmas(ctx context.Context) error {
	for _, p := range connectionPragmas {
		if _, err := s.conn.ExecContext(ctx, p); err != nil {
			return driver.NewIOError(fmt.Errorf("sqlite: apply %q: %w", p, err))
		}
	}
	return nil
}

func (s *session) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return driver.NewIOError(err)
	}
	return nil
}

func (s *session) Prepare(ctx context.Context, sqlText string) (driver.Stmt, error) {
	stmt, err := s.conn.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, classifyError(err)
	}
	return &preparedStmt{stmt: stmt, numInput: strings.Count(sqlText, "?")}, nil
}

func (s *session) Execute(ctx context.Context, st driver.Stmt, args []any) (int64, error) {
	ps := st.(*preparedStmt)
	var n int64
	_, err := s.worker.Step(ctx, func() (sqliteworker.StepResult, error) {
		res, execErr := ps.stmt.ExecContext(ctx, args...)
		if execErr != nil {
			return sqliteworker.StepDone, execErr
		}
		n, execErr = res.RowsAffected()
		return sqliteworker.StepDone, execErr
	})
	if err != nil {
		return 0, classifyError(err)
	}
	return n, nil
}

func (s *session) Fetch(ctx context.Context, st driver.Stmt, args []any) (driver.Rows, error) {
	ps := st.(*preparedStmt)
	var rows *sql.Rows
	_, err := s.worker.Step(ctx, func() (sqliteworker.StepResult, error) {
		r, qErr := ps.stmt.QueryContext(ctx, args...)
		rows = r
		return sqliteworker.StepRow, qErr
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return newRows(rows, s.conn, s.worker), nil
}

func (s *session) Begin(ctx context.Context, savepoint string) error {
	var stmt string
	if savepoint == "" {
		stmt = "BEGIN"
	} else {
		stmt = "SAVEPOINT " + savepoint
	}
	_, err := s.conn.ExecContext(ctx, stmt)
	if err == nil {
		s.txOpen = true
	}
	return classifyError(err)
}

func (s *session) Commit(ctx context.Context, savepoint string) error {
	var stmt string
	if savepoint == "" {
		stmt = "COMMIT"
	} else {
		stmt = "RELEASE SAVEPOINT " + savepoint
	}
	_, err := s.conn.ExecContext(ctx, stmt)
	if err == nil && savepoint == "" {
		s.txOpen = false
	}
	return classifyError(err)
}

func (s *session) Rollback(ctx context.Context, savepoint string) error {
	var stmts []string
	if savepoint == "" {
		stmts = []string{"ROLLBACK"}
	} else {
		stmts = []string{"ROLLBACK TO SAVEPOINT " + savepoint, "RELEASE SAVEPOINT " + savepoint}
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return classifyError(err)
		}
	}
	if savepoint == "" {
		s.txOpen = false
	}
	return nil
}

func (s *session) Close() error {
	s.worker.Close()
	err := s.conn.Close()
	_ = s.db.Close()
	if err != nil {
		return driver.NewIOError(err)
	}
	return nil
}

type preparedStmt struct {
	stmt     *sql.Stmt
	numInput int
}

func (p *preparedStmt) NumInput() int { return p.numInput }

func (p *preparedStmt) Finalize(context.Context) error {
	if err := p.stmt.Close(); err != nil {
		return driver.NewIOError(err)
	}
	return nil
}

// classifyError maps a raw database/sql error into the driver error
// taxonomy. SQLite surfaces constraint/syntax failures as plain errors
// from modernc.org/sqlite without a structured code in this narrow
// binding, so anything that isn't a context/closed error is treated as a
// recoverable Database error per spec section 4.E ("Database errors do
// not mark the connection broken").
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return driver.NewIOError(err)
	}
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return driver.NewProtocolError(err)
	}
	return driver.NewDatabaseError("", err.Error(), "")
}
