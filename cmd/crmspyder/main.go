package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/crablduck/crm-spyder/internal/app"
	"github.com/crablduck/crm-spyder/internal/config"
	"github.com/crablduck/crm-spyder/internal/logging"
)

var version = "dev"

func main() {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crmspyder",
		Short:         "Procurement announcement crawler and customer profile integrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCrawlCmd(), newIntegrateCmd(), newVersionCmd())
	return root
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the procurement portal for every hospital in the roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level)
			return app.New(cfg, logger).RunCrawl(cmd.Context())
		},
	}
}

func newIntegrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrate <run-dir>",
		Short: "Merge a persisted crawl batch into the customer master dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level)
			return app.New(cfg, logger).RunIntegrate(cmd.Context(), args[0])
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
