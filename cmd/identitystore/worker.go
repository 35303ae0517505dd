package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"identitystore/internal/notify"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker that delivers webhooks and fires metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Redis.URL == "" {
				return fmt.Errorf("REDIS_URL is required for a standalone worker")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.InfoContext(ctx, "identitystore worker started", "concurrency", cfg.Worker.Concurrency)
			srv := notify.NewServer(a.redis.AsynqOpt(), cfg.Worker.Concurrency, a.logger)
			return notify.RunServer(ctx, srv, a.processor.Mux())
		},
	}
}
