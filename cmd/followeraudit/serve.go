package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/follower-audit/internal/api"
)

const defaultShutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the session
// controller over HTTP until interrupted.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if port == 0 {
				port = cfg.Server.Port
			}
			logger := appInstance.Logger()
			server := api.NewServer(appInstance.Controller(), api.Options{
				APIKey:   cfg.Server.APIKey,
				Progress: appInstance.Recorder(),
				Logger:   logger.Named("api"),
			})
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			shutdown := cfg.Server.ShutdownTimeout
			if shutdown <= 0 {
				shutdown = defaultShutdownTimeout
			}
			return serve(cmd.Context(), srv, shutdown, logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

// serve runs srv until ctx is canceled or a termination signal arrives.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
