// Command autoads manages campaign automation rules and applies them to ads accounts, either
// through the HTTP API (serve) or as a one-shot sweep started by cron.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vndarlan/chegou-autoads/internal/adsplatform"
	"github.com/vndarlan/chegou-autoads/internal/app/server"
	"github.com/vndarlan/chegou-autoads/internal/config"
	"github.com/vndarlan/chegou-autoads/internal/orchestrator"
	"github.com/vndarlan/chegou-autoads/internal/ruleset"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		cfg        config.Config
	)

	cmd := &cobra.Command{
		Use:           "autoads",
		Short:         "Rule-based automation for ad campaigns",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Server.LogLevel = logLevel
			}
			config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&cfg),
		sweepCmd(&cfg),
		migrateCmd(&cfg),
		rulesCmd(&cfg),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("autoads version %s (build: %s)\n", Version, BuildTime)
			},
		},
	)
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return server.Run(ctx, *cfg)
		},
	}
}

func sweepCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run every due automatic rule against every account once",
		Long: `Runs one automatic sweep and exits. Failures of single accounts or campaigns are
logged and do not change the exit status; it is non-zero only when the store cannot be
opened or the rules and accounts cannot be listed. If another sweep is still running
against the same database this one is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			store, err := server.Open(ctx, *cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			clients := server.PlatformClients(adsplatform.NewFactory(*cfg))
			orch := server.NewOrchestrator(*cfg, store, store, clients)
			report, err := orch.RunAutomaticSweep(ctx, time.Now())
			if errors.Is(err, orchestrator.ErrSweepRunning) {
				log.Warn().Msg("previous sweep still running; skipped")
				return nil
			}
			if err != nil {
				return err
			}
			if report.Cancelled {
				log.Warn().Msg("sweep cancelled by signal")
			}
			return nil
		},
	}
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := server.Open(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			store.Close()
			return nil
		},
	}
}

func rulesCmd(cfg *config.Config) *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Manage rules",
	}

	var file string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Create the rules defined in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ruleset.Load(file)
			if err != nil {
				return err
			}
			store, err := server.Open(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			results := ruleset.Import(cmd.Context(), store, f)
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "rule %d (%s): %v\n", r.Index+1, r.Name, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rule %d (%s): created %s\n", r.Index+1, r.Name, r.ID)
			}
			if n := ruleset.Failed(results); n > 0 {
				return fmt.Errorf("%d of %d rules rejected", n, len(results))
			}
			return nil
		},
	}
	imp.Flags().StringVarP(&file, "file", "f", "", "YAML rule file")
	_ = imp.MarkFlagRequired("file")

	rules.AddCommand(imp)
	return rules
}
