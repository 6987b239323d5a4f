package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/config"
)

const (
	sweepLockName = "automatic_sweep"
	// pg_advisory_lock key; any constant shared by every process on the database
	sweepLockKey = int64(0x5357454550)
	// a sqlite holder that never released (crashed process) is presumed dead after this
	sweepLockStale = 2 * time.Hour
)

// TryLockSweep takes the database-wide automatic sweep lock without waiting. ok is false when
// another process holds it. release must be called once the sweep is over.
func (s *Store) TryLockSweep(ctx context.Context) (release func(), ok bool, err error) {
	if s.driver == config.DriverPostgres {
		return s.tryAdvisoryLock(ctx)
	}
	return s.tryTableLock(ctx)
}

func (s *Store) tryAdvisoryLock(ctx context.Context) (func(), bool, error) {
	pool, err := s.PgxPool()
	if err != nil {
		return nil, false, err
	}
	// advisory locks belong to a session, so the connection is held until release
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}
	var ok bool
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := conn.QueryRow(qctx, "SELECT pg_try_advisory_lock($1)", sweepLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		if _, err := conn.Exec(uctx, "SELECT pg_advisory_unlock($1)", sweepLockKey); err != nil {
			log.Error().Err(err).Msg("release sweep lock")
		}
		conn.Release()
	}, true, nil
}

func (s *Store) tryTableLock(ctx context.Context) (func(), bool, error) {
	holder := uuid.NewString()
	now := s.now()
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, s.sb.Delete("sweep_lock").Where(sq.And{
			sq.Eq{"name": sweepLockName},
			sq.Lt{"acquired_at": s.timeArg(now.Add(-sweepLockStale))},
		})); err != nil {
			return err
		}
		n, err := exec(ctx, tx, s.sb.Insert("sweep_lock").
			Columns("name", "holder", "acquired_at").
			Values(sweepLockName, holder, s.timeArg(now)).
			Suffix("ON CONFLICT (name) DO NOTHING"))
		if err != nil {
			return err
		}
		ok = n == 1
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("take sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if _, err := exec(context.Background(), s.db, s.sb.Delete("sweep_lock").Where(sq.Eq{"name": sweepLockName, "holder": holder})); err != nil {
			log.Error().Err(err).Msg("release sweep lock")
		}
	}, true, nil
}
