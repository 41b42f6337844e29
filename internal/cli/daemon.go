package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/cutlog/internal/logging"
	syncpkg "github.com/kimhsiao/cutlog/internal/sync"
	"github.com/kimhsiao/cutlog/internal/sync/scheduler"
)

// healthProbeInterval is how often the daemon checks that the API is reachable.
const healthProbeInterval = 30 * time.Second

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(opts *RootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync in the background and serve metrics",
		Long: `Run background sync passes every sync_interval, and whenever the API becomes
reachable again. Prometheus metrics are served on /metrics, the scheduler
state on /status, and POST /sync requests an immediate pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = opts.cfg.MetricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, opts, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (default metrics_addr)")
	return cmd
}

func runDaemon(ctx context.Context, opts *RootOptions, metricsAddr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := openApp(opts.cfg, syncpkg.NewMetrics(reg))
	if err != nil {
		return err
	}
	defer a.Close()

	a.engine.SetEventHandler(syncpkg.SyncEventHandlerFunc(func(ev syncpkg.SyncEvent) {
		if ev.Type == syncpkg.SyncEventFailed {
			logging.Warn("Background sync failed", map[string]interface{}{"error": ev.Message})
		}
	}))

	sched := scheduler.NewScheduler(a.engine, &scheduler.SchedulerConfig{
		SyncInterval: opts.cfg.SyncInterval,
		PassTimeout:  scheduler.DefaultSchedulerConfig().PassTimeout,
	})
	sched.Start(ctx)
	defer sched.Stop()
	sched.Trigger()

	go probeHealth(ctx, a, sched)

	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           daemonRouter(reg, sched),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Daemon listening", map[string]interface{}{"addr": metricsAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logging.Info("Daemon stopping")
	return srv.Shutdown(shutdownCtx)
}

func daemonRouter(reg *prometheus.Registry, sched *scheduler.Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sched.GetStatus())
	})
	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]bool{"queued": sched.Trigger()})
	})
	return r
}

// probeHealth flips the scheduler offline while the API is unreachable.
func probeHealth(ctx context.Context, a *app, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := a.client.Health(probeCtx)
		cancel()
		online := err == nil
		if online != sched.IsOnline() {
			logging.Info("API reachability changed", map[string]interface{}{"online": online})
		}
		sched.SetOnlineStatus(online)
	}
}
