package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements the slice of pgx.Rows this package's repos use.
type rowsStub struct {
	rows [][]any
	idx  int
	err  error
}

func (r *rowsStub) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}
func (r *rowsStub) Scan(dest ...any) error {
	src := r.rows[r.idx-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = src[i].(string)
		case **string:
			*p, _ = src[i].(*string)
		case *int:
			*p = src[i].(int)
		case *int64:
			*p = src[i].(int64)
		case *bool:
			*p = src[i].(bool)
		case *[]byte:
			*p, _ = src[i].([]byte)
		default:
			return errors.New("unsupported scan target in test stub")
		}
	}
	return nil
}
func (r *rowsStub) Err() error  { return r.err }
func (r *rowsStub) Close()     {}
func (r *rowsStub) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)        { return nil, nil }
func (r *rowsStub) RawValues() [][]byte           { return nil }
func (r *rowsStub) Conn() *pgx.Conn               { return nil }

// poolStub implements postgres.PgxPool for tests.
type poolStub struct {
	execErr error
	row     rowStub
	rows    *rowsStub
	rowsErr error
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.rowsErr != nil {
		return nil, p.rowsErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) Begin(_ context.Context) (pgx.Tx, error) { return nil, errors.New("not implemented") }
func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}
