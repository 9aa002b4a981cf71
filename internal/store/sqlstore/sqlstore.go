// Package sqlstore implements the ledger store on database/sql for SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx stdlib driver).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"kasirpos/internal/logger"
	"kasirpos/internal/store"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      squirrel.StatementBuilderType
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens (creating if needed) the database file at path and applies
// pending migrations. In-memory databases are not supported because the
// migrator needs its own connection to the same file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" || strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("sqlite path must be a file, got %q", path)
	}
	if err := migrateSQLite(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// one connection: sqlite has a single writer and the unit's *sql.Tx must
	// not race a second connection for the lock
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return newStore(db, DialectSQLite), nil
}

// OpenPostgres connects with the pgx stdlib driver and applies pending
// migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	if err := migratePostgres(databaseURL); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return newStore(db, DialectPostgres), nil
}

// New wraps an already-migrated connection. Used by tests with sqlmock.
func New(db *sql.DB, dialect Dialect) *Store {
	return newStore(db, dialect)
}

func newStore(db *sql.DB, dialect Dialect) *Store {
	var format squirrel.PlaceholderFormat = squirrel.Question
	if dialect == DialectPostgres {
		format = squirrel.Dollar
	}
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      squirrel.StatementBuilder.PlaceholderFormat(format),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

type sqlTx struct {
	*sql.Tx
	owner *Store
}

func (s *Store) begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, err
	}
	return &sqlTx{Tx: tx, owner: s}, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.Atomic(ctx, s.begin, fn)
}

// conn returns the transaction of the unit in ctx, or the pool.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := s.unitTx(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) unitTx(ctx context.Context) (*sql.Tx, bool) {
	u, ok := store.UnitFrom(ctx)
	if !ok {
		return nil, false
	}
	tx, ok := u.Tx().(*sqlTx)
	if !ok || tx.owner != s {
		return nil, false
	}
	return tx.Tx, true
}

// forUpdate makes reads inside a postgres unit take a row lock so that two
// units cannot compute stock from the same snapshot. SQLite units are already
// serialized by the single connection.
func (s *Store) forUpdate(ctx context.Context, q squirrel.SelectBuilder) squirrel.SelectBuilder {
	if s.dialect != DialectPostgres {
		return q
	}
	if _, ok := s.unitTx(ctx); !ok {
		return q
	}
	return q.Suffix("FOR UPDATE")
}

func (s *Store) get(ctx context.Context, dst any, q squirrel.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := sqlscan.Get(ctx, s.conn(ctx), dst, query, args...); err != nil {
		if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) selectAll(ctx context.Context, dst any, q squirrel.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlscan.Select(ctx, s.conn(ctx), dst, query, args...)
}

func (s *Store) exec(ctx context.Context, q squirrel.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// insert runs an INSERT ... RETURNING id and returns the new id.
func (s *Store) insert(ctx context.Context, q squirrel.InsertBuilder) (int64, error) {
	query, args, err := q.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	var id int64
	if err := s.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// like matches substrings case-insensitively on both dialects.
func (s *Store) like(column string, value string) squirrel.Sqlizer {
	pattern := "%" + value + "%"
	if s.dialect == DialectPostgres {
		return squirrel.ILike{column: pattern}
	}
	return squirrel.Like{column: pattern}
}

func mapError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func limitOr(limit int, fallback int) uint64 {
	if limit <= 0 {
		return uint64(fallback)
	}
	return uint64(limit)
}

// savepoint runs fn so that its failure does not poison the surrounding
// transaction. Outside a unit fn runs directly.
func (s *Store) savepoint(ctx context.Context, name string, fn func() error) error {
	tx, ok := s.unitTx(ctx)
	if !ok {
		return fn()
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			logger.Warn(ctx, "rollback to savepoint failed", "savepoint", name, "error", rbErr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
