package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/adsplatform"
	"github.com/vndarlan/chegou-autoads/internal/api"
	"github.com/vndarlan/chegou-autoads/internal/config"
	"github.com/vndarlan/chegou-autoads/internal/engine"
	"github.com/vndarlan/chegou-autoads/internal/listener"
	"github.com/vndarlan/chegou-autoads/internal/orchestrator"
	"github.com/vndarlan/chegou-autoads/internal/storage"
)

// Open connects to the configured store and brings its schema up to date.
func Open(ctx context.Context, cfg config.Config) (*storage.Store, error) {
	store, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("db", cfg.DSNRedacted()).Msg("storage ready")
	return store, nil
}

// PlatformClients adapts the ads platform factory to the orchestrator.
func PlatformClients(f *adsplatform.Factory) orchestrator.ClientFactory {
	return orchestrator.ClientFactoryFunc(func(ctx context.Context, a engine.Account) (orchestrator.Client, error) {
		c, err := f.ForAccount(ctx, a)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// NewOrchestrator wires the engine to the store. rules must read the database directly so
// the due check sees runs recorded by other processes; sweeps are locked through the store.
func NewOrchestrator(cfg config.Config, store *storage.Store, rules orchestrator.RuleStore, clients orchestrator.ClientFactory) *orchestrator.Orchestrator {
	return orchestrator.New(rules, store, store, clients, orchestrator.Options{
		Window:             engine.ParseWindow(cfg.Platform.InsightsWindow),
		AccountConcurrency: cfg.Sweep.AccountConcurrency,
		CallTimeout:        cfg.CallTimeout(),
		Lock:               store,
	})
}

type Server struct {
	cfg   config.Config
	store *storage.Store
	rules *storage.RuleCache
	h     *api.Handler
}

func New(cfg config.Config, store *storage.Store, clients orchestrator.ClientFactory) *Server {
	rules := storage.NewRuleCache(store)
	orch := NewOrchestrator(cfg, store, rules.Direct(), clients)
	return &Server{
		cfg:   cfg,
		store: store,
		rules: rules,
		h:     api.NewHandler(rules, store, store, orch),
	}
}

func (s *Server) Handler() http.Handler { return api.Router(s.h) }

// Serve runs the HTTP API and the rules change listener until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // sweeps and manual runs can take minutes
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go listener.ListenAndInvalidate(bgCtx, s.store, s.rules, s.cfg.Listener.Channel, s.cfg.Backoff())

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel()
	return srv.Shutdown(shCtx)
}

// Run opens the store and serves until ctx is done.
func Run(ctx context.Context, cfg config.Config) error {
	store, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return New(cfg, store, PlatformClients(adsplatform.NewFactory(cfg))).Serve(ctx)
}
