package pgwire

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/axql/axql/driver"
)

type rows struct {
	rr       *pgconn.ResultReader
	desc     *pgconn.StatementDescription
	cols     []string
	cur      [][]byte
	affected int64
}

func newRows(rr *pgconn.ResultReader, desc *pgconn.StatementDescription) *rows {
	return &rows{rr: rr, desc: desc}
}

func (r *rows) Columns() []string {
	if r.cols == nil {
		for _, f := range r.desc.Fields {
			r.cols = append(r.cols, f.Name)
		}
	}
	return r.cols
}

func (r *rows) Next(ctx context.Context) (bool, error) {
	if !r.rr.NextRow() {
		res, err := r.rr.Close()
		if err != nil {
			return false, classifyExecError(err)
		}
		r.affected = res.RowsAffected
		return false, nil
	}
	r.cur = r.rr.Values()
	return true, nil
}

func (r *rows) Scan(dest ...any) error {
	for i, d := range dest {
		if i >= len(r.cur) {
			break
		}
		if err := scanInto(d, r.cur[i]); err != nil {
			return &driver.Error{Kind: driver.KindColumnDecode, Err: err}
		}
	}
	return nil
}

func (r *rows) RowsAffected() int64 { return r.affected }

func (r *rows) Close(context.Context) error {
	if _, err := r.rr.Close(); err != nil {
		return classifyExecError(err)
	}
	return nil
}

// scanInto is a minimal text-format decoder; value encoding/decoding per
// database type is an explicit out-of-scope collaborator (spec section
// 1) — this performs only the byte-to-Go-primitive conversion needed so
// the core's own tests can exercise row scanning end to end.
func scanInto(dest any, raw []byte) error {
	switch p := dest.(type) {
	case *[]byte:
		*p = raw
		return nil
	case *string:
		*p = string(raw)
		return nil
	case *int:
		n, err := strconv.Atoi(string(raw))
		if err != nil {
			return err
		}
		*p = n
		return nil
	case *int64:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		*p = n
		return nil
	case *any:
		*p = string(raw)
		return nil
	}
	return nil
}
