package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/server"
)

// service is the subset of *server.App that serve drives.
type service interface {
	Run(ctx context.Context) error
}

// buildService is a variable so tests can swap in a fake.
var buildService = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (service, error) {
	return server.Build(ctx, cfg, logger)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and crawl workers",
		Long: `Starts the HTTP API. POST /scrape queues a domain run that a background
worker crawls and delivers to the request's workerWebhookUrl or resultSink.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := buildService(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run app: %w", err)
			}
			return nil
		},
	}
}
