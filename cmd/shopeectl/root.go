package main

import (
	"context"
	"fmt"

	"shopee-video-bot/internal/config"
	pg "shopee-video-bot/internal/infra/db/postgres"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/usecase"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "shopeectl",
		Short: "Operator tool for the Shopee video bot",
		Long: `shopeectl talks to the same database and resolver the bot uses.

Examples:
  shopeectl fetch https://shopee.com.br/universal-link/...
  shopeectl status 123456789
  shopeectl grant 123456789 --days 30
  shopeectl token --subject ops`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log resolver and store activity")

	cmd.AddCommand(
		newFetchCmd(opts),
		newCheckCmd(opts),
		newStatusCmd(opts),
		newGrantCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() *zerolog.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	return logging.New(config.LogConfig{Level: level, Format: "console"}, true)
}

func (o *rootOptions) config() (*config.Config, error) {
	return config.ReadConfig(o.configPath, false)
}

// entitlements opens the database and returns the same use case the bot runs.
func (o *rootOptions) entitlements(ctx context.Context) (usecase.EntitlementUseCase, *pgxpool.Pool, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	pool, err := o.connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	uc := usecase.NewEntitlementUseCase(pg.NewEntitlementRepo(pool), pg.NewTxManager(pool), o.logger(),
		usecase.WithDailyLimit(cfg.Quota.DailyLimit))
	return uc, pool, nil
}

func (o *rootOptions) connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url missing: set database.url or DATABASE_URL")
	}
	return pg.Connect(ctx, cfg.Database)
}
