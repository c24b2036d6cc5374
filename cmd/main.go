package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"

	"support-agent/internal/app"
	"support-agent/internal/config"
	"support-agent/internal/telemetry"
)

const shutdownBudget = 1500 * time.Millisecond

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(viper.New())
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFile, os.Stdout)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.TelemetryEnabled {
		shutdownTelemetry, err = telemetry.Init(ctx, "support-agent", os.Stdout)
		if err != nil {
			slog.Error("failed to start telemetry", "err", err)
			os.Exit(1)
		}
	}

	// ---- Service ----
	svc, err := app.New(ctx, cfg, logger, app.Deps{})
	if err != nil {
		slog.Error("failed to wire service", "err", err)
		os.Exit(1)
	}

	// Lambda sends SIGTERM before freezing the environment for good; pending
	// follow-ups are delivered early rather than lost.
	lambda.StartWithOptions(svc.Handler.Handle,
		lambda.WithEnableSIGTERM(func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
			defer cancel()
			if err := svc.Shutdown(sctx); err != nil {
				slog.Error("shutdown failed", "err", err)
			}
			if err := shutdownTelemetry(sctx); err != nil {
				slog.Error("telemetry shutdown failed", "err", err)
			}
			_ = logCloser.Close()
		}),
	)
}
