package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			janitorCtx, stopJanitor := context.WithCancel(ctx)
			defer stopJanitor()
			go app.pruneLimiters(janitorCtx, 5*time.Minute)

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      app.Routes(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				app.logger.Info().
					Str("addr", srv.Addr).
					Str("env", cfg.Server.Env).
					Str("storage", cfg.Storage.Driver).
					Bool("mssql_catalog", cfg.MSSQL.Enabled).
					Bool("kurrentdb", cfg.KurrentDB.Enabled).
					Bool("auth_required", cfg.Auth.Required).
					Msg("simulator listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			var runErr error
			select {
			case <-ctx.Done():
				app.logger.Info().Msg("shutting down server")
			case runErr = <-serveErr:
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.logger.Error().Err(err).Msg("server shutdown error")
			}
			if err := app.Close(shutdownCtx); err != nil {
				app.logger.Error().Err(err).Msg("engine shutdown error")
			}
			app.logger.Info().Msg("server stopped")

			if runErr != nil {
				return fmt.Errorf("server error: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight requests and session loops to stop")
	return cmd
}
