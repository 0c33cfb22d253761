package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Store serves both postgres (pgx) and sqlite (modernc). Queries are written
// with ? placeholders and rebound for the driver in use.
type Store struct {
	*repo
	db *sqlx.DB
}

// repo runs queries against either the pool or an open transaction.
type repo struct {
	q    sqlx.ExtContext
	root *sqlx.DB
}

func New(ctx context.Context, driver string, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(8)
		db.SetMaxOpenConns(30)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{repo: &repo{q: db, root: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn against a transaction-scoped repository and commits only
// when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.SalesRepository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&repo{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// atomically gives multi-row writes all-or-nothing behaviour when the repo is
// not already inside a transaction.
func (r *repo) atomically(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if r.root == nil {
		return fn(r.q)
	}

	tx, err := r.root.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return execOn(ctx, r.q, query, args...)
}

func execOn(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

func (r *repo) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *repo) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return err
}

const sqliteConstraint = 19

func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique, foreign key and check violations
		return pgErr.Code == "23505" || pgErr.Code == "23503" || pgErr.Code == "23514"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == sqliteConstraint
	}
	return false
}

func formatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

func parseDate(val string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(val))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad stored date %q", store.ErrInvalidRecord, val)
	}
	return t, nil
}

// rangeClause builds the date window and limit shared by the list queries.
func rangeClause(column string, filter domain.SaleFilter) (string, []any) {
	conds := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if !filter.From.IsZero() {
		conds = append(conds, column+" >= ?")
		args = append(args, formatDate(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, column+" < ?")
		args = append(args, formatDate(filter.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return where, args
}

func limitClause(limit int) string {
	if limit < 1 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

var (
	_ store.Repository      = (*Store)(nil)
	_ store.Transactor      = (*Store)(nil)
	_ store.SalesRepository = (*repo)(nil)
)
