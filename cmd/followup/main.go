// Command followup is the Lambda that consumes the follow-up delay queue and
// writes due messages into their sessions.
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

	cfg, err := config.Load(viper.New())
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.FollowUpQueueURL == "" {
		slog.Error("follow-up consumer needs a queue", "key", config.KeyFollowUpQueueURL)
		os.Exit(1)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFile, os.Stdout)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	svc, err := app.New(ctx, cfg, logger, app.Deps{})
	if err != nil {
		logger.Error("failed to wire service", "err", err)
		os.Exit(1)
	}

	lambda.StartWithOptions(svc.FollowUps.HandleSQS,
		lambda.WithEnableSIGTERM(func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
			defer cancel()
			if err := svc.Shutdown(sctx); err != nil {
				logger.Error("shutdown failed", "err", err)
			}
			_ = logCloser.Close()
		}),
	)
}
