package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"shopee-video-bot/internal/domain"
	pg "shopee-video-bot/internal/infra/db/postgres"
	"shopee-video-bot/internal/infra/api"

	"github.com/spf13/cobra"
)

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show a user's quota and premium state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			uc, pool, err := root.entitlements(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			e, a, err := uc.Lookup(cmd.Context(), id)
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Printf("user %d has no record yet\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("user:            %d\n", e.UserID)
			fmt.Printf("downloads today: %d (last reset %s)\n", e.DownloadsToday, e.LastResetDate.Format(time.DateOnly))
			if e.PremiumExpiry != nil {
				fmt.Printf("premium until:   %s (active=%v)\n", e.PremiumExpiry.Format(time.DateOnly), a.IsPremium)
			} else {
				fmt.Println("premium:         never")
			}
			if a.IsPremium {
				fmt.Println("allowance:       unlimited")
			} else {
				fmt.Printf("allowance:       %d of %d left\n", a.DownloadsLeft, a.DailyLimit)
			}
			return nil
		},
	}
}

func newGrantCmd(root *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Add premium days to a user (stacks onto a running premium)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			uc, pool, err := root.entitlements(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			exp, err := uc.GrantPremium(cmd.Context(), id, days)
			if err != nil {
				return err
			}
			fmt.Printf("user %d is premium until %s\n", id, exp.Format(time.DateOnly))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "days to grant")
	return cmd
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			pool, err := root.connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pg.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			tok, err := api.NewAuthManager(cfg.HTTP.AdminJWTSecret, ttl).Mint(subject)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
