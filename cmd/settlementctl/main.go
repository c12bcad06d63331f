package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/innovasure/settlement-orchestrator/internal/app"
	"github.com/innovasure/settlement-orchestrator/internal/config"
	"github.com/innovasure/settlement-orchestrator/internal/lease"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operate settlement batches without the HTTP API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(processCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the service graph a command runs against.
type env struct {
	cfg   *config.Config
	svc   *app.Services
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Share leases with a running API server when Redis is configured.
	var locker lease.Locker = lease.NewLocalLocker()
	closers := []func(){closeStore, func() { _ = logger.Sync() }}
	if cfg.RedisURL != "" {
		client, err := app.NewRedisClient(cfg.RedisURL)
		if err != nil {
			closeStore()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = lease.NewRedisLocker(client)
		closers = append(closers, func() { client.Close() })
	}

	return &env{
		cfg: cfg,
		svc: app.NewServices(cfg, store, locker),
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema for the configured storage driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", e.cfg.StorageDriver)
			return nil
		},
	}
}
