package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/authority/internal/bootstrap"
	"github.com/dropDatabas3/authority/internal/config"
	"github.com/dropDatabas3/authority/internal/migrate"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
	"github.com/dropDatabas3/authority/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v (using process environment)", err)
	}

	var (
		configPath string
		dir        string
	)
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Schema migrations for the credential store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to YAML config (env CONFIG_PATH)")
	root.PersistentFlags().StringVar(&dir, "dir", "", "Migrations directory (default: embedded units)")

	// withRunner abre el store, arma el runner y lo cierra al terminar.
	withRunner := func(ctx context.Context, fn func(*migrate.Runner) error) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if dir != "" {
			cfg.Migrations.Dir = dir
		}
		logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "authority-migrate"})
		defer func() { _ = logger.Sync() }()

		st, err := store.Open(ctx, cfg.StoreConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := metrics.New(nil)
		if err != nil {
			return err
		}
		r := bootstrap.NewRunner(cfg, st, m)
		if r == nil {
			return fmt.Errorf("storage driver %q has no schema to migrate", st.Driver)
		}
		return fn(r)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(r *migrate.Runner) error {
				applied, err := r.Run(cmd.Context())
				for _, u := range applied {
					fmt.Printf("applied %d_%s\n", u.Version, u.Name)
				}
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Println("nothing to apply")
				}
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and drifted migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(r *migrate.Runner) error {
				rep, err := r.Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
				for _, u := range rep.Applied {
					fmt.Fprintf(tw, "%d\t%s\tapplied\t%s\n", u.Version, u.Name, u.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, u := range rep.Pending {
					fmt.Fprintf(tw, "%d\t%s\tpending\t-\n", u.Version, u.Name)
				}
				for _, d := range rep.Drifted {
					fmt.Fprintf(tw, "%d\t%s\tdrifted\t-\n", d.Version, d.Name)
				}
				for _, u := range rep.Unknown {
					fmt.Fprintf(tw, "%d\t%s\tunknown\t%s\n", u.Version, u.Name, u.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(r *migrate.Runner) error {
				u, err := r.RollbackLast(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("rolled back %d_%s\n", u.Version, u.Name)
				return nil
			})
		},
	}

	root.AddCommand(upCmd, statusCmd, downCmd)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
