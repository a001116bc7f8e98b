package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/dokey/internal/config"
	"github.com/dharsanguruparan/dokey/internal/database"
	"github.com/dharsanguruparan/dokey/internal/logging"
	"github.com/dharsanguruparan/dokey/internal/signing"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DOKEY_DATABASE_URL is not set")
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat)
			ctx := cmd.Context()
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			log.Info("schema is up to date")
			return nil
		},
	}
}

func newLinkCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "link <documentId> <recipientId>",
		Short: "Print a signed signing link for a recipient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.LinkTTL
			}
			signer := signing.NewLinkSigner(cfg.SigningSecret, ttl, cfg.PublicURL)
			url, expires := signer.URL(args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), url)
			fmt.Fprintf(cmd.OutOrStdout(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Link lifetime (defaults to DOKEY_LINK_TTL)")
	return cmd
}
