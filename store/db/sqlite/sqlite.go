package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/romanmihailow/tg-post-service/internal/profile"
	"github.com/romanmihailow/tg-post-service/store"
)

// dbtx is the common query surface of *sql.DB and *sql.Tx, so every entity
// operation works identically inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// DB implements store.Driver on a single-connection SQLite database.
type DB struct {
	queries
	sqldb   *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
//
// Settings follow the usual single-writer recipe for the modernc driver:
// WAL journal, generous busy timeout, foreign keys off (explicitly, to
// survive driver default changes), and exactly one pooled connection.
func NewDB(p *profile.Profile) (*DB, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", p.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", p.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{queries: queries{db: sqliteDB}, sqldb: sqliteDB, profile: p}, nil
}

func (d *DB) Close() error {
	return d.sqldb.Close()
}

// session implements store.Session over one *sql.Tx.
type session struct {
	queries
	tx *sql.Tx
}

func (d *DB) Begin(ctx context.Context) (store.Session, error) {
	tx, err := d.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	return &session{queries: queries{db: tx}, tx: tx}, nil
}

func (s *session) Commit() error {
	return errors.Wrap(s.tx.Commit(), "failed to commit transaction")
}

func (s *session) Rollback() error {
	err := s.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "failed to rollback transaction")
	}
	return nil
}

// Timestamps are stored as unix seconds (UTC); zero means NULL.

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
