package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/authority/internal/bootstrap"
	"github.com/dropDatabas3/authority/internal/config"
	httpx "github.com/dropDatabas3/authority/internal/http"
	"github.com/dropDatabas3/authority/internal/observability/logger"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v (using process environment)", err)
	}

	var configPath string
	root := &cobra.Command{
		Use:           "authority",
		Short:         "Identity & credential authority",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", ""), "Path to YAML config (env CONFIG_PATH)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "authority", Version: version})
		return cfg, nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			rate := cfg.Rate.MFA
			return httpx.Serve(ctx, cfg.Server.Addr, httpx.NewRouter(httpx.RouterConfig{
				Authority:     app.Authority,
				Metrics:       app.Metrics,
				MFARateLimit:  rate.Limit,
				MFARateWindow: cfg.RateMFAWindow(),
				AdminRoles:    cfg.MFA.PrivilegedRoles,
			}))
		},
	}

	var grant bootstrap.GrantRoleInput
	grantCmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role to an already federated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, err := bootstrap.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			u, err := bootstrap.GrantRole(cmd.Context(), app.Stores.Repository, grant)
			if err != nil {
				return err
			}
			fmt.Printf("granted %s to %s (%s)\n", grant.Role, u.ID, logger.MaskEmail(u.Email))
			return nil
		},
	}
	grantCmd.Flags().StringVar(&grant.Provider, "provider", "", "Identity provider (google, github, ...)")
	grantCmd.Flags().StringVar(&grant.SubjectID, "subject", "", "Subject id at the provider")
	grantCmd.Flags().StringVar(&grant.Role, "role", "owner", "Role name")
	_ = grantCmd.MarkFlagRequired("provider")
	_ = grantCmd.MarkFlagRequired("subject")

	root.AddCommand(serveCmd, grantCmd)
	root.RunE = serveCmd.RunE

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
