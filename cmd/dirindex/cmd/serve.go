package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/dirindex/internal/audit"
	"github.com/Aman-CERP/dirindex/internal/config"
	"github.com/Aman-CERP/dirindex/internal/daemon"
	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/indexer"
	"github.com/Aman-CERP/dirindex/internal/logging"
	"github.com/Aman-CERP/dirindex/internal/metrics"
	"github.com/Aman-CERP/dirindex/internal/preflight"
	"github.com/Aman-CERP/dirindex/internal/provider"
	"github.com/Aman-CERP/dirindex/internal/reindex"
	"github.com/Aman-CERP/dirindex/internal/store"
	"github.com/Aman-CERP/dirindex/internal/watcher"
	"github.com/Aman-CERP/dirindex/internal/workitem"
	"github.com/Aman-CERP/dirindex/pkg/version"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the indexer",
		Long: `Run the indexer in the foreground until interrupted.

serve opens the index, replays work left over from the previous run, and
accepts requests from the other commands on a Unix socket. On SIGINT or
SIGTERM outstanding work is written to the pending-work file so the next
start picks it up.`,
		Example: `  # Serve with the configuration in the current directory
  dirindex serve

  # Serve with debug logging and Prometheus metrics
  DIRINDEX_METRICS_ADDR=127.0.0.1:9464 dirindex --debug serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// startupChecks runs the required preflight checks against the data dir.
// Warnings are logged; the first critical result stops startup.
func startupChecks(cfg *config.Config) error {
	checker := preflight.New(cfg)
	for _, r := range []preflight.CheckResult{
		checker.CheckWritePermissions(cfg.Indexer.DataDir),
		checker.CheckDiskSpace(cfg.Indexer.DataDir),
		checker.CheckFileDescriptors(),
	} {
		if r.IsCritical() {
			return errors.PreflightFailure(r.Name, r.Message)
		}
		if r.Status == preflight.StatusWarn {
			slog.Warn("preflight_warning", slog.String("check", r.Name), slog.String("message", r.Message))
		}
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if !debugMode {
		lcfg := logging.DefaultConfig()
		lcfg.Level = cfg.Server.LogLevel
		// JSON when stderr is not a terminal.
		if !isatty.IsTerminal(os.Stderr.Fd()) {
			lcfg.Format = logging.FormatJSON
		}
		logger, cleanup, err := logging.Setup(lcfg)
		if err != nil {
			return err
		}
		defer cleanup()
		slog.SetDefault(logger)
	}

	if err := startupChecks(cfg); err != nil {
		return err
	}

	lock := daemon.NewDataDirLock(cfg.LockPath())
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	prov, cards, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	var recorder audit.Recorder
	if cfg.Audit.Enabled {
		auditLog, err := audit.Open(cfg.AuditPath())
		if err != nil {
			return errors.StorageFailure("failed to open audit log", err).WithDetail("path", cfg.AuditPath())
		}
		defer func() { _ = auditLog.Close() }()
		recorder = auditLog
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	st, err := store.Open(cfg.IndexPath())
	if err != nil {
		return err
	}

	manager, err := indexer.New(indexer.Config{
		Store:       st,
		Provider:    prov,
		PendingFile: workitem.NewPendingFile(cfg.PendingFilePath()),
		Ledger: reindex.New(reindex.Config{
			ExpiryWindow:  cfg.Indexer.ExpiryWindow,
			RetryInterval: cfg.Indexer.RetryInterval,
		}, time.Now),
		Audit:    recorder,
		Metrics:  m,
		Schedule: cfg.Indexer.Schedule,
	})
	if err != nil {
		_ = st.Close()
		return err
	}
	if err := manager.Start(ctx); err != nil {
		_ = manager.Close()
		return err
	}

	pid := daemon.NewPIDFile(cfg.PIDPath())
	if err := pid.Write(); err != nil {
		slog.Warn("pid_file_write_failed", slog.String("error", err.Error()))
	}
	defer func() { _ = pid.Remove() }()

	slog.Info("dirindex_started",
		slog.String("version", version.Version),
		slog.String("index", cfg.IndexPath()),
		slog.String("provider", cfg.Provider.Type),
		slog.String("socket", cfg.SocketPath()),
		slog.Int("recovered", manager.Status().PendingKeys))

	g, gctx := errgroup.WithContext(ctx)

	server := daemon.NewServer(cfg.SocketPath(), manager)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if cfg.Server.MetricsAddr != "" {
		serveMetrics(gctx, g, cfg.Server.MetricsAddr, m)
	}

	if cfg.Watch.Enabled && cards != nil {
		w := watcher.New(cards, manager, watcher.Options{Debounce: cfg.Watch.Debounce})
		if err := w.Start(gctx); err != nil {
			slog.Warn("card_watcher_unavailable", slog.String("error", err.Error()))
		} else {
			g.Go(func() error {
				<-gctx.Done()
				return w.Stop()
			})
		}
	}

	runErr := g.Wait()

	slog.Info("dirindex_stopping", slog.String("status", fmt.Sprintf("%+v", manager.Status())))
	closeErr := manager.Close()
	if closeErr != nil {
		slog.Error("indexer_close_failed", errors.LogAttrs(closeErr)...)
	}
	return stderrors.Join(runErr, closeErr)
}

// buildProvider returns the configured provider and, for the directory
// provider, the card directory to watch.
func buildProvider(cfg *config.Config) (provider.Provider, *provider.DirectoryProvider, error) {
	switch cfg.Provider.Type {
	case config.ProviderHTTP:
		return provider.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.Timeout), nil, nil
	default:
		dir := cfg.CardDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, errors.ConfigError("failed to create card directory", err).WithDetail("path", dir)
		}
		cards := provider.NewDirectoryProvider(dir)
		return cards, cards, nil
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	metrics.RegisterMetricsEndpoint(mux, m)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		slog.Info("metrics_listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
