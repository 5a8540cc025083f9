package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/specgate/specgate/metric"
	"github.com/specgate/specgate/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long:  `Starts the HTTP front-end and, when enabled, the Prometheus metrics endpoint.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		if err := a.gateway.EnsureAdminUser(ctx, a.cfg.Auth.AdminUsername, a.cfg.Auth.AdminPassword); err != nil {
			return err
		}

		srv := web.New(a.gateway, a.cfg.Server, a.logger)

		var metricsSrv *metric.Server
		if a.cfg.Metrics.Enabled {
			metricsSrv = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.metrics)
		}

		fmt.Printf("specgate listening on %s\n", a.cfg.Server.Addr())
		if metricsSrv != nil {
			fmt.Printf("  metrics: http://localhost:%d%s\n", a.cfg.Metrics.Port, a.cfg.Metrics.Path)
		}

		group, gctx := errgroup.WithContext(ctx)
		group.Go(srv.Start)
		if metricsSrv != nil {
			group.Go(metricsSrv.Start)
		}
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown failed", "error", err)
			}
			if metricsSrv != nil {
				if err := metricsSrv.Stop(shutdownCtx); err != nil {
					a.logger.Warn("metrics shutdown failed", "error", err)
				}
			}
			return a.gateway.Close(shutdownCtx)
		})

		return group.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
