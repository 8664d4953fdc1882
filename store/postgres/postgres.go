// Package postgres implements store.Storage against a PostgreSQL database.
// It issues SQL through database/sql and github.com/lib/pq, leaning on
// Postgres's own READ COMMITTED isolation plus explicit
// SELECT ... FOR UPDATE row locks for code exchange and refresh rotation,
// the two places concurrent requests must serialize against the same row.
//
// A connection and a transaction both satisfy the same narrow querier/
// execer surface, so CRUD methods are written once against that surface
// and work unmodified whether or not they're running inside a
// transaction.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/matrix-auth/core/store"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type storage struct {
	q  execer
	db *sql.DB // non-nil only on the top-level (non-transactional) handle
}

var _ store.Storage = (*storage)(nil)

// New wraps an already-open *sql.DB as a store.Storage. The caller owns the
// pool's lifecycle configuration (max conns, timeouts); this package only
// consumes it.
func New(db *sql.DB) store.Storage {
	return &storage{q: db, db: db}
}

func (s *storage) Close() error {
	if s.db == nil {
		// This handle is bound to a transaction; closing the pool is the
		// top-level handle's job.
		return nil
	}
	return s.db.Close()
}

func (s *storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Storage) error) error {
	if s.db == nil {
		// Already inside a transaction: reuse it rather than nesting.
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStorage := &storage{q: tx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, txStorage); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// nullTime converts a *time.Time to the driver's nullable representation.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// requireRowAffected turns a zero-rows UPDATE/DELETE into store.ErrNotFound
// so state-transition methods never silently no-op.
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// The scanNull* helpers adapt a **T destination field to database/sql's
// Scan, so a single query can Scan directly into a store.X struct's
// nullable *string/*time.Time/*int64 fields without an intermediate
// sql.NullX local variable at every call site.

type stringPtrScanner struct{ dst **string }

func (s stringPtrScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	switch v := src.(type) {
	case string:
		val := v
		*s.dst = &val
	case []byte:
		val := string(v)
		*s.dst = &val
	default:
		return fmt.Errorf("cannot scan %T into *string", src)
	}
	return nil
}

func scanNullString(dst **string) sql.Scanner { return stringPtrScanner{dst} }

type timePtrScanner struct{ dst **time.Time }

func (s timePtrScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	t, ok := src.(time.Time)
	if !ok {
		return fmt.Errorf("cannot scan %T into *time.Time", src)
	}
	*s.dst = &t
	return nil
}

func scanNullTime(dst **time.Time) sql.Scanner { return timePtrScanner{dst} }

type int64PtrScanner struct{ dst **int64 }

func (s int64PtrScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	v, ok := src.(int64)
	if !ok {
		return fmt.Errorf("cannot scan %T into *int64", src)
	}
	*s.dst = &v
	return nil
}

func scanNullInt64(dst **int64) sql.Scanner { return int64PtrScanner{dst} }

type intPtrScanner struct{ dst **int }

func (s intPtrScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	v, ok := src.(int64)
	if !ok {
		return fmt.Errorf("cannot scan %T into *int", src)
	}
	iv := int(v)
	*s.dst = &iv
	return nil
}

func scanNullInt(dst **int) sql.Scanner { return intPtrScanner{dst} }

// encoder/decoder wrap a Go value in database/sql's Valuer/Scanner so a
// []string column (redirect URIs, scopes, response/grant types) round-trips
// through a single JSON-typed column.
func encoder(v any) driver.Valuer { return jsonEncoder{v} }

func decoder(v any) sql.Scanner { return jsonDecoder{v} }

type jsonEncoder struct{ v any }

func (e jsonEncoder) Value() (driver.Value, error) {
	b, err := json.Marshal(e.v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}

type jsonDecoder struct{ v any }

func (d jsonDecoder) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("expected []byte, got %T", src)
	}
	if err := json.Unmarshal(b, d.v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
