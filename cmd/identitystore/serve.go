package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"identitystore/internal/audit"
	"identitystore/internal/metric"
	"identitystore/internal/notify"
	"identitystore/internal/platform/httpserver"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the metrics schedule and the change-event worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			schedule, err := metric.NewSchedule(cfg.Metrics.Schedule, a.dispatcher, a.logger)
			if err != nil {
				return err
			}
			srv := httpserver.New(cfg.Server, a.router())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, a.logger)
			})
			g.Go(func() error {
				return audit.NewWorker(a.auditSink, a.publisher.Events(), a.logger).Run(gctx)
			})
			g.Go(func() error {
				return schedule.Run(gctx)
			})
			if a.redis != nil && cfg.Worker.InProcess {
				g.Go(func() error {
					srv := notify.NewServer(a.redis.AsynqOpt(), cfg.Worker.Concurrency, a.logger)
					return notify.RunServer(gctx, srv, a.processor.Mux())
				})
			}

			a.logger.InfoContext(ctx, "identitystore started",
				"addr", cfg.Server.Addr,
				"store", a.storeKind(),
				"queue", a.queueKind(),
			)
			err = g.Wait()
			if a.inline != nil {
				a.inline.Wait()
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			a.logger.Info("identitystore stopped")
			return nil
		},
	}
}

