package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/vndarlan/chegou-autoads/internal/config"
)

const queryTimeout = 5 * time.Second

// Store is the relational persistence of rules, executions and accounts. It runs over
// postgres (pgx pool) or sqlite with the same SQL, built per dialect by squirrel.
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool // postgres only; used for LISTEN
	driver  string
	sb      sq.StatementBuilderType
	channel string
	now     func() time.Time
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return newPostgres(ctx, cfg)
	case config.DriverSQLite:
		return NewSQLite(cfg.Database.SQLitePath)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

func newPostgres(ctx context.Context, cfg config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(min(cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns))
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{
		db:      stdlib.OpenDBFromPool(pool),
		pool:    pool,
		driver:  config.DriverPostgres,
		sb:      sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		channel: cfg.Listener.Channel,
		now:     time.Now,
	}, nil
}

// NewSQLite opens (creating if needed) a sqlite database file; ":memory:" gives a private
// in-memory database.
func NewSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return &Store{
		db:     db,
		driver: config.DriverSQLite,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:    time.Now,
	}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Driver() string { return s.driver }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// ListenChannel is the postgres notification channel raised on every rules mutation.
func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "rules_changed"
	}
	return s.channel
}

// PgxPool exposes the postgres pool for LISTEN; it fails on sqlite.
func (s *Store) PgxPool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, errors.New("pgx pool is nil: store is not backed by postgres")
	}
	return s.pool, nil
}

// SetClock replaces the source of server-assigned timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// inTx runs fn in one transaction: commit on nil, rollback otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func exec(ctx context.Context, e execer, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sql: %w", err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", firstLine(query), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func query(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Rows, error) {
	text, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	rows, err := q.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", firstLine(text), err)
	}
	return rows, nil
}

func firstLine(q string) string {
	for i, r := range q {
		if r == '\n' || i >= 60 {
			return q[:i]
		}
	}
	return q
}
