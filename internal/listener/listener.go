package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/storage"
)

// Invalidator drops state derived from the rules table.
type Invalidator interface {
	Invalidate()
}

// ListenAndInvalidate subscribes to the rules change channel and invalidates target on every
// notification. A lost connection is re-established with jittered backoff; target is invalidated
// after each reconnect since notifications may have been missed. It returns when ctx is done or
// the store is not backed by postgres.
func ListenAndInvalidate(ctx context.Context, st *storage.Store, target Invalidator, channel string, baseBackoff time.Duration) {
	pool, err := st.PgxPool()
	if err != nil {
		log.Info().Str("driver", st.Driver()).Msg("change notifications unavailable; rule cache invalidated by local writes only")
		return
	}
	if channel == "" {
		channel = st.ListenChannel()
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			target.Invalidate()
		}
		err := listen(ctx, pool, target, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("notify wait error")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, target Invalidator, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for rule changes")

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		log.Debug().Str("channel", ntf.Channel).Str("op", ntf.Payload).Msg("rules changed; invalidating cache")
		target.Invalidate()
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
