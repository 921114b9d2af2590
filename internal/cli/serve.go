package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/api"
	"github.com/xraph/coffer/audit_hook"
	"github.com/xraph/coffer/config"
	"github.com/xraph/coffer/observability"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the Coffer engine and serve the internal JSON API.

Migrations are applied on start. The process stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serve(ctx, cfg, ln, cmd)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

// serve runs the engine and API on ln until ctx is done.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, cmd *cobra.Command) error {
	logger := cfg.Logger(cmd.ErrOrStderr())

	st, err := cfg.Store.OpenStore(ctx)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts, err := cfg.Options()
	if err != nil {
		_ = ln.Close()
		_ = st.Close()
		return err
	}
	opts = append(opts,
		coffer.WithLogger(logger),
		coffer.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		coffer.WithPlugin(audithook.New(audithook.NewLogRecorder(logger))),
	)

	eng, err := coffer.New(st, opts...)
	if err != nil {
		_ = ln.Close()
		_ = st.Close()
		return err
	}
	if err := eng.Start(ctx); err != nil {
		_ = ln.Close()
		_ = eng.Stop()
		return fmt.Errorf("start engine: %w", err)
	}

	server := api.NewServer(eng, logger)
	server.EnableMetrics(reg)
	srv := &http.Server{
		Handler:      server.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coffer listening", "addr", ln.Addr().String(), "store", cfg.Store.Driver)
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	return errors.Join(serveErr, eng.Stop())
}
