package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/taskgrid/internal/metrics"
	"github.com/marcus/taskgrid/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the manifest watcher, periodic report and metrics endpoint",
	Long: `Run in the foreground until interrupted:

  - re-import the manifest (watch.manifest or --manifest) whenever it changes
  - log sprint and swarm reports on the watch.report_cron schedule
  - serve Prometheus metrics on watch.metrics_addr (empty disables it)

Claims made by other processes are picked up on the next report.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("manifest", "", "Manifest to watch (overrides watch.manifest)")
	watchCmd.Flags().String("schedule", "", "Report cron schedule (overrides watch.report_cron)")
	watchCmd.Flags().String("metrics-addr", "", "Metrics listen address (overrides watch.metrics_addr)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	a, err := openApp(cmd, m)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	manifestPath := a.cfg.Watch.Manifest
	if v, _ := cmd.Flags().GetString("manifest"); v != "" {
		manifestPath = v
	}
	schedule := a.cfg.Watch.ReportCron
	if v, _ := cmd.Flags().GetString("schedule"); v != "" {
		schedule = v
	}
	addr := a.cfg.Watch.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr, _ = cmd.Flags().GetString("metrics-addr")
	}

	log := a.logger.WithComponent("watch")
	g, ctx := errgroup.WithContext(cmd.Context())

	if manifestPath != "" {
		w := watch.NewManifestWatcher(manifestPath, a.reg, a.reg.Roster(), watch.WithWatcherLogger(log))
		g.Go(func() error { return w.Run(ctx) })
	}

	if schedule != "" {
		rep := watch.NewReporter(a.reg,
			watch.WithSwarms(a.coordinator()),
			watch.WithObserver(m),
			watch.WithReporterLogger(log),
		)
		g.Go(func() error { return rep.Run(ctx, schedule) })
	}

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Zerolog().Info().Str("addr", addr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "--- Watching (Ctrl+C to exit) ---")
	return g.Wait()
}
