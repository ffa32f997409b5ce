package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/grpcx"
	"github.com/md-rashed-zaman/circulation/libs/runtime"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/jobs"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/settings"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/storage/postgres"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "circulation.v1"

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue appointments and ready reservations once, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := runtime.SignalContext()
			defer stop()

			d, err := loadDeps(ctx, opts)
			if err != nil {
				return err
			}
			defer d.Close()

			worker := jobs.NewSweepWorker(d.service(), d.locker(), d.logger, jobs.WorkerConfig{Interval: d.settings.SweepInterval})
			res, ran, err := worker.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				d.logger.Info("another replica holds the sweep lock")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := runtime.SignalContext()
			defer stop()

			d, err := loadDeps(ctx, opts)
			if err != nil {
				return err
			}
			defer d.Close()
			if d.settings.Store != settings.StorePostgres {
				return errMemoryStore
			}
			if err := postgres.Migrate(ctx, d.pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			d.logger.Info("schema applied")
			return nil
		},
	}
}

// newHealthcheckCommand probes the gRPC health endpoint of a running
// instance. It exits non-zero unless the service reports SERVING.
func newHealthcheckCommand(_ *rootOptions) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query grpc.health.v1 on a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: timeout})
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service is %s", resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "gRPC address of the instance")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "overall deadline")
	return cmd
}
