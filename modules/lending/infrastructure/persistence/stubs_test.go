package persistence

import (
	"context"
	"errors"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type beginFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

type execCall struct {
	sql  string
	args []any
}

// txStub answers Exec with tags in order, QueryRow with rows in order and
// Query with rowSets in order. Exec calls beyond tags report "SELECT 1".
type txStub struct {
	tags      []pgconn.CommandTag
	rows      []pgx.Row
	rowSets   []*fakeRows
	execErr   error
	commitErr error

	execs     []execCall
	queries   []execCall
	committed bool
}

func (t *txStub) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Commit(context.Context) error {
	t.committed = t.commitErr == nil
	return t.commitErr
}
func (t *txStub) Rollback(context.Context) error { return nil }
func (t *txStub) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *txStub) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) Conn() *pgx.Conn { return nil }

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	// The first Exec is always set_config.
	if len(t.execs) == 1 || len(t.tags) == 0 {
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	tag := t.tags[0]
	t.tags = t.tags[1:]
	return tag, nil
}

func (t *txStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.queries = append(t.queries, execCall{sql: sql, args: args})
	if len(t.rowSets) == 0 {
		return &fakeRows{}, nil
	}
	r := t.rowSets[0]
	t.rowSets = t.rowSets[1:]
	return r, nil
}

func (t *txStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.queries = append(t.queries, execCall{sql: sql, args: args})
	if len(t.rows) == 0 {
		return stubRow{err: errors.New("row not mocked")}
	}
	r := t.rows[0]
	t.rows = t.rows[1:]
	return r
}

func assign(dest []any, vals []any) error {
	for i := range dest {
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		target := reflect.ValueOf(dest[i]).Elem()
		v := reflect.ValueOf(vals[i])
		if target.Kind() == reflect.Pointer && v.Kind() != reflect.Pointer {
			p := reflect.New(v.Type())
			p.Elem().Set(v)
			v = p
		}
		target.Set(v)
	}
	return nil
}

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type fakeRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.data[r.idx-1]) }
func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }
