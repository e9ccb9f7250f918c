package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
	"github.com/HaPhanBaoMinh/kinsight/internal/observability"
	"github.com/HaPhanBaoMinh/kinsight/internal/server"
)

func newServeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Collect cluster snapshots and stream them over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, err := newRepo(cfg)
			if err != nil {
				logging.Error("Error creating the cluster client: %v", err)
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			rec := observability.NewRecorder(reg)

			srv := server.New(repo, cfg.Server.Interval.Duration, server.WithMetrics(rec, reg))
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				logging.Error("Server stopped: %v", err)
				return err
			}
			logging.Info("Server shut down")
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.kubeconfig, "kubeconfig", "", "Path to kubeconfig (default $KUBECONFIG or ~/.kube/config)")
	fl.StringVarP(&f.context, "context", "k", "", "Kubernetes context to use (if not set, uses current context)")
	fl.BoolVar(&f.mock, "mock", false, "Serve a synthetic cluster instead of a real one")
	fl.StringVar(&f.addr, "addr", "", "Listen address (default :3000)")
	fl.DurationVar(&f.interval, "interval", 0, "Time between snapshots on the stream (default 5s)")
	return cmd
}
