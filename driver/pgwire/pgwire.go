// Package pgwire adapts jackc/pgx/v5's pgconn — the pure-Go Postgres
// wire-protocol connection primitive beneath pgx — to the driver.Driver
// contract. Unlike the SQLite backend, pgconn is a stable, directly
// importable API independent of database/sql, so this backend talks wire
// protocol frames directly: exactly the "driver invokes a narrow driver
// trait" relationship spec section 4.A describes.
package pgwire

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/axql/axql/driver"
)

// Backend implements driver.Driver for PostgreSQL.
type Backend struct{}

func (Backend) Name() string { return "postgres" }

func (Backend) Open(ctx context.Context, opts driver.Options) (driver.Session, error) {
	connString := buildConnString(opts)

	pc, err := pgconn.Connect(ctx, connString)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	return &session{pc: pc, stmtSeq: 0}, nil
}

func buildConnString(opts driver.Options) string {
	cfg := make(map[string]string, len(opts.Params)+4)
	for k, v := range opts.Params {
		cfg[k] = v
	}
	cfg["host"] = opts.DataSource
	if opts.Database != "" {
		cfg["dbname"] = opts.Database
	}
	if opts.Username != "" {
		cfg["user"] = opts.Username
	}
	if opts.Password != "" {
		cfg["password"] = opts.Password
	}

	s := ""
	for k, v := range cfg {
		if v == "" {
			continue
		}
		s += k + "=" + quoteParam(v) + " "
	}
	return s
}

func quoteParam(v string) string {
	return strconv.Quote(v)
}

type session struct {
	pc      *pgconn.PgConn
	stmtSeq int
}

func (s *session) Ping(ctx context.Context) error {
	if err := s.pc.Ping(ctx); err != nil {
		return driver.NewIOError(err)
	}
	return nil
}

func (s *session) Prepare(ctx context.Context, sqlText string) (driver.Stmt, error) {
	s.stmtSeq++
	name := fmt.Sprintf("axql_%d", s.stmtSeq)

	sd, err := s.pc.Prepare(ctx, name, RebindPositional(sqlText), nil)
	if err != nil {
		return nil, classifyExecError(err)
	}
	return &preparedStmt{session: s, name: name, numInput: len(sd.ParamOIDs), desc: sd}, nil
}

func (s *session) Execute(ctx context.Context, st driver.Stmt, args []any) (int64, error) {
	ps := st.(*preparedStmt)
	rr := s.pc.ExecPrepared(ctx, ps.name, encodeArgs(args), allText(len(ps.desc.ParamOIDs)), nil)
	res, err := rr.Close()
	if err != nil {
		return 0, classifyExecError(err)
	}
	return res.RowsAffected, nil
}

func (s *session) Fetch(ctx context.Context, st driver.Stmt, args []any) (driver.Rows, error) {
	ps := st.(*preparedStmt)
	rr := s.pc.ExecPrepared(ctx, ps.name, encodeArgs(args), allText(len(ps.desc.ParamOIDs)), nil)
	return newRows(rr, ps.desc), nil
}

func (s *session) Begin(ctx context.Context, savepoint string) error {
	var sql string
	if savepoint == "" {
		sql = "BEGIN"
	} else {
		sql = "SAVEPOINT " + savepoint
	}
	return classifyExecError(s.simpleExec(ctx, sql))
}

func (s *session) Commit(ctx context.Context, savepoint string) error {
	var sql string
	if savepoint == "" {
		sql = "COMMIT"
	} else {
		sql = "RELEASE SAVEPOINT " + savepoint
	}
	return classifyExecError(s.simpleExec(ctx, sql))
}

func (s *session) Rollback(ctx context.Context, savepoint string) error {
	if savepoint == "" {
		return classifyExecError(s.simpleExec(ctx, "ROLLBACK"))
	}
	if err := s.simpleExec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
		return classifyExecError(err)
	}
	return classifyExecError(s.simpleExec(ctx, "RELEASE SAVEPOINT "+savepoint))
}

func (s *session) simpleExec(ctx context.Context, sql string) error {
	mrr := s.pc.Exec(ctx, sql)
	_, err := mrr.ReadAll()
	if closeErr := mrr.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *session) Close() error {
	err := s.pc.Close(context.Background())
	if err != nil {
		return driver.NewIOError(err)
	}
	return nil
}

type preparedStmt struct {
	session  *session
	name     string
	numInput int
	desc     *pgconn.StatementDescription
}

func (p *preparedStmt) NumInput() int { return p.numInput }

// Finalize deallocates the named prepared statement server-side. This
// is what actually bounds plan memory as the statement cache evicts
// entries; without it, eviction only forgets the handle locally while
// the backend keeps the plan for the life of the connection.
func (p *preparedStmt) Finalize(ctx context.Context) error {
	return classifyExecError(p.session.simpleExec(ctx, "DEALLOCATE "+quoteIdentifier(p.name)))
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func encodeArgs(args []any) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		if a == nil {
			out[i] = nil
			continue
		}
		out[i] = []byte(fmt.Sprint(a))
	}
	return out
}

func allText(n int) []int16 {
	return make([]int16, n)
}

func classifyConnectError(err error) error {
	return driver.NewIOError(err)
}

func classifyExecError(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := err.(*pgconn.PgError); ok {
		e := driver.NewDatabaseError(pgErr.Code, pgErr.Message, pgErr.Severity)
		e.Routine = pgErr.Routine
		e.Position = int(pgErr.Position)
		return e
	}
	return driver.NewProtocolError(err)
}
