package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/api"
	"github.com/support934/smartgecode-saas/internal/auth"
	"github.com/support934/smartgecode-saas/internal/engine"
	"github.com/support934/smartgecode-saas/internal/metrics"
)

var servePort int

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and resume unfinished jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		guard, err := newGuard(st)
		if err != nil {
			return err
		}
		notifier, closeNotifier := newNotifier()
		defer closeNotifier()

		m := metrics.New()
		eng := engine.New(engineConfig(), engine.Deps{
			Store:    st,
			Client:   newGeocoder(m),
			Guard:    guard,
			Notifier: notifier,
			Metrics:  m,
		})

		resumed, err := eng.ResumePending(ctx)
		if err != nil {
			return err
		}
		if resumed > 0 {
			zap.L().Info("resumed unfinished jobs", zap.Int("count", resumed))
		}

		handler := api.NewServer(eng, auth.NewResolver(st), api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			Ready:          st,
		})
		srv := api.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), handler)

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- eris.Wrap(err, "server listen")
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("http shutdown", zap.Error(err))
		}
		// Running jobs stay in processing and resume on the next start.
		if err := eng.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
