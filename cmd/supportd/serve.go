package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"support-agent/handler"
	"support-agent/internal/app"
	"support-agent/internal/config"
	"support-agent/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			logger, logCloser, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFile, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer logCloser.Close()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.TelemetryEnabled {
				shutdownTelemetry, err := telemetry.Init(ctx, "support-agent", cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if err := shutdownTelemetry(sctx); err != nil {
						logger.Error("telemetry shutdown failed", "err", err)
					}
				}()
			}

			svc, err := app.New(ctx, cfg, logger, app.Deps{})
			if err != nil {
				return err
			}
			return serve(ctx, cfg, logger, svc)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	cmd.Flags().String("store", "", "Session store backend (dynamodb|sqlite)")
	cmd.Flags().Float64("rate-limit", 0, "Requests per second per client, 0 to disable (default 10)")
	_ = v.BindPFlag(config.KeyHTTPAddr, cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag(config.KeyStoreBackend, cmd.Flags().Lookup("store"))
	_ = v.BindPFlag(config.KeyRateLimitRPS, cmd.Flags().Lookup("rate-limit"))

	return cmd
}

func newServer(svc *app.App, rps float64, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, rv middleware.RequestLoggerValues) error {
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", rv.Method),
				slog.String("uri", rv.URI),
				slog.Int("status", rv.Status),
				slog.Duration("latency", rv.Latency),
				slog.String("correlation_id", c.Response().Header().Get("X-Correlation-Id")),
			)
			return nil
		},
	}))
	e.Use(handler.Middleware(rps)...)
	svc.Handler.RegisterRoutes(e)
	return e
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, svc *app.App) error {
	e := newServer(svc, cfg.RateLimitRPS, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("supportd: http server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if err := svc.Shutdown(sctx); err != nil {
		logger.Error("service shutdown failed", "err", err)
	}
	return serveErr
}
