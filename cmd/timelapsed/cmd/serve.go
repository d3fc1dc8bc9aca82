package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sireskandari/Aransite/pkg/api"
	"github.com/sireskandari/Aransite/pkg/artifact"
	"github.com/sireskandari/Aransite/pkg/cleanup"
	"github.com/sireskandari/Aransite/pkg/encoder"
	"github.com/sireskandari/Aransite/pkg/jobs"
	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/metrics"
	"github.com/sireskandari/Aransite/pkg/ratelimit"
	"github.com/sireskandari/Aransite/pkg/scheduler"
	"github.com/sireskandari/Aransite/pkg/shutdown"
	"github.com/sireskandari/Aransite/pkg/store"
	tlsutil "github.com/sireskandari/Aransite/pkg/tls"
	"github.com/sireskandari/Aransite/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background encoder workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Int("workers", 0, "concurrent encodes (overrides queue.workers)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("queue.workers", serveCmd.Flags().Lookup("workers"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()
	logger := logging.WithComponent("serve")

	ctx := cmd.Context()

	sm := shutdown.New(cfg.Server.ShutdownTimeout)

	backend, err := store.NewStore(ctx, cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	sm.Register("store", shutdown.CloseResource(backend))

	tp, err := tracing.InitTracer(ctx, cfg.TracingConfig(Version))
	if err != nil {
		_ = sm.Shutdown()
		return err
	}
	sm.Register("tracer", tp.Shutdown)

	layout, err := cfg.Layout()
	if err != nil {
		_ = sm.Shutdown()
		return fmt.Errorf("resolve storage layout: %w", err)
	}

	m := metrics.New(cfg.Metrics.RuntimeCollectors)
	m.WatchStore(backend)

	enc := encoder.New(cfg.EncoderConfig(), layout, backend, encoder.ExecRunner{})
	runner := jobs.NewRunner(backend, enc, layout, m)

	// Nothing is in flight yet, so every non-terminal row belongs to a
	// runner that died with the previous process.
	recovery := scheduler.NewRecoveryManager(cfg.RecoveryConfig(), backend, runner, m)
	if cfg.Recovery.Enabled {
		if n := recovery.RecoverInterrupted(ctx); n > 0 {
			logger.Warn().Int("jobs", n).Msg("failed jobs interrupted by restart")
		}
	}

	pool := jobs.NewPool(runner.Handle,
		jobs.WithWorkers(cfg.Queue.Workers),
		jobs.WithQueueSize(cfg.Queue.Capacity),
		jobs.WithDepthObserver(m.SetQueueDepth),
		jobs.WithLogger(logging.WithComponent("pool")),
	)
	sm.Register("worker pool", pool.Shutdown)

	retention := cleanup.NewManager(cfg.CleanupConfig(), backend, layout, m)
	retention.Start()
	sm.Register("retention cleanup", retention.Stop)

	if cfg.Recovery.Enabled {
		recovery.Start()
		sm.Register("recovery", recovery.Stop)
	}

	routerCfg := api.RouterConfig{Metrics: m.Handler(), Observer: m, Tracer: tp}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		limiter.StartCleanup(10*time.Minute, 30*time.Minute, sm.Done())
		routerCfg.Limiter = limiter
	}

	handler := api.NewHandler(backend,
		jobs.NewDispatcher(backend, pool, m),
		artifact.NewServer(backend, layout),
		cleanup.NewSweeper(layout, m),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, routerCfg),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	useTLS := cfg.Server.TLSCertFile != ""
	if useTLS {
		tlsCfg, err := tlsutil.LoadServerConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			_ = sm.Shutdown()
			return err
		}
		srv.TLSConfig = tlsCfg
	}
	sm.Register("http server", shutdown.StopHTTPServer(srv))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("static_root", layout.Root).
			Int("workers", cfg.Queue.Workers).
			Int("queue_capacity", cfg.Queue.Capacity).
			Str("database", cfg.Database.Type).
			Str("version", Version).
			Bool("tls", useTLS).
			Msg("timelapsed listening")
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sm.Wait(gctx)
	})

	return g.Wait()
}
