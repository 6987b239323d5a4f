package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/config"
)

type column struct {
	table, name, pgType, sqliteType string
}

// columns added after the first release; older databases get them on Migrate
var lateColumns = []column{
	{"api_config", "token_expires_at", "DATE", "DATE"},
	{"rules", "execution_mode", "TEXT NOT NULL DEFAULT 'manual'", "TEXT NOT NULL DEFAULT 'manual'"},
	{"rules", "execution_interval_hours", "INTEGER", "INTEGER"},
	{"rules", "last_automatic_run_at", "TIMESTAMPTZ", "TIMESTAMP"},
}

func (s *Store) schema() []string {
	ts, now := "TIMESTAMPTZ", "CURRENT_TIMESTAMP"
	if s.driver == config.DriverSQLite {
		ts = "TIMESTAMP"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_config (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			app_id TEXT NOT NULL,
			app_secret TEXT NOT NULL,
			access_token TEXT NOT NULL,
			account_id TEXT NOT NULL,
			business_id TEXT,
			page_id TEXT,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			last_updated ` + ts + ` NOT NULL DEFAULT ` + now + `,
			token_expires_at DATE
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			is_composite BOOLEAN NOT NULL DEFAULT FALSE,
			primary_metric TEXT NOT NULL,
			primary_operator TEXT NOT NULL,
			primary_value DOUBLE PRECISION NOT NULL,
			secondary_metric TEXT,
			secondary_operator TEXT,
			secondary_value DOUBLE PRECISION,
			join_operator TEXT NOT NULL DEFAULT 'AND',
			action_type TEXT NOT NULL,
			action_value DOUBLE PRECISION,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			execution_mode TEXT NOT NULL DEFAULT 'manual',
			execution_interval_hours INTEGER,
			last_automatic_run_at ` + ts + `,
			created_at ` + ts + ` NOT NULL DEFAULT ` + now + `,
			updated_at ` + ts + ` NOT NULL DEFAULT ` + now + `,
			CHECK ((execution_mode = 'automatic') = (execution_interval_hours IS NOT NULL))
		)`,
		// rule_id is deliberately not a foreign key: history outlives its rule
		`CREATE TABLE IF NOT EXISTS rule_executions (
			id TEXT PRIMARY KEY,
			rule_id TEXT,
			ad_object_id TEXT NOT NULL,
			ad_object_type TEXT NOT NULL,
			ad_object_name TEXT NOT NULL,
			executed_at ` + ts + ` NOT NULL DEFAULT ` + now + `,
			was_successful BOOLEAN NOT NULL DEFAULT FALSE,
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS rule_executions_executed_at_idx ON rule_executions (executed_at)`,
		`CREATE INDEX IF NOT EXISTS rules_created_at_idx ON rules (created_at)`,
	}
	if s.driver == config.DriverSQLite {
		// postgres sweeps use an advisory lock instead
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS sweep_lock (
			name TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			acquired_at TIMESTAMP NOT NULL
		)`)
	}
	if s.driver == config.DriverPostgres {
		stmts = append(stmts,
			`CREATE OR REPLACE FUNCTION notify_rules_changed() RETURNS trigger AS $$
			BEGIN
				PERFORM pg_notify('`+s.ListenChannel()+`', TG_OP);
				RETURN NULL;
			END;
			$$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS rules_changed ON rules`,
			`CREATE TRIGGER rules_changed AFTER INSERT OR UPDATE OR DELETE ON rules
				FOR EACH STATEMENT EXECUTE FUNCTION notify_rules_changed()`,
		)
	}
	return stmts
}

// Migrate creates missing tables and upgrades older layouts in one transaction.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range s.schema() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %q: %w", firstLine(strings.TrimSpace(stmt)), err)
			}
		}
		for _, c := range lateColumns {
			if err := s.ensureColumn(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("driver", s.driver).Msg("schema up to date")
	return nil
}

func (s *Store) ensureColumn(ctx context.Context, tx *sql.Tx, c column) error {
	if s.driver == config.DriverPostgres {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", c.table, c.name, c.pgType)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.name, err)
		}
		return nil
	}

	exists, err := sqliteHasColumn(ctx, tx, c.table, c.name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	log.Info().Str("table", c.table).Str("column", c.name).Msg("adding column")
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.name, c.sqliteType)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", c.table, c.name, err)
	}
	return nil
}

func sqliteHasColumn(ctx context.Context, tx *sql.Tx, table, name string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if col == name {
			return true, nil
		}
	}
	return false, rows.Err()
}
