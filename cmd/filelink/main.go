package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/auth"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/db"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "filelink",
		Short:        "Telegram file to link gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (defaults to $CONFIG_PATH or config.toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot and the HTTP streaming server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cfgPath)
			},
		},
		newTokenCommand(&cfgPath),
		newMigrateCommand(&cfgPath),
	)
	return root
}

func newTokenCommand(cfgPath *string) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the upload API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set")
			}
			token, expiresAt, err := auth.GenerateToken(userID, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "telegram user id the token acts as")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StoreDriverPostgres {
				return fmt.Errorf("store driver %q has no migrations", cfg.Store.Driver)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			return db.Migrate(logger.L, cfg.Postgres.DSN())
		},
	}
}

// loadConfig resolves the config path from the flag, then CONFIG_PATH.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
