package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"support-agent/internal/domain"
)

const instrumentationName = "support-agent/internal/usecase"

// FallbackReply is returned whenever the answer service cannot produce text.
const FallbackReply = "Sorry, I'm having trouble connecting to support right now."

const (
	defaultAnswerTimeout     = 8 * time.Second
	defaultAnswerMaxTokens   = 512
	defaultAnswerTemperature = 0.6
)

// LLMClient is one answer-generation provider.
type LLMClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}

// AnswerOptions bounds each generation call.
type AnswerOptions struct {
	Timeout     time.Duration
	MaxTokens   int64
	Temperature float64
}

// AnswerGateway makes a single bounded call to the provider and converts
// every failure into FallbackReply.
type AnswerGateway struct {
	llm     LLMClient
	opts    AnswerOptions
	logger  *slog.Logger
	tracer  trace.Tracer
	calls   metric.Int64Counter
	falls   metric.Int64Counter
	latency metric.Float64Histogram
}

func NewAnswerGateway(llm LLMClient, opts AnswerOptions, logger *slog.Logger) (*AnswerGateway, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultAnswerTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultAnswerMaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = defaultAnswerTemperature
	}

	meter := otel.Meter(instrumentationName)
	calls, err := meter.Int64Counter("support.answer.calls",
		metric.WithDescription("Answer-generation calls"))
	if err != nil {
		return nil, err
	}
	falls, err := meter.Int64Counter("support.answer.fallbacks",
		metric.WithDescription("Answer-generation calls that returned the fallback reply"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("support.answer.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Answer-generation call duration"))
	if err != nil {
		return nil, err
	}

	return &AnswerGateway{
		llm:     llm,
		opts:    opts,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		calls:   calls,
		falls:   falls,
		latency: latency,
	}, nil
}

// Generate never fails: provider errors, timeouts and empty completions are
// logged and answered with FallbackReply.
func (g *AnswerGateway) Generate(ctx context.Context, turns []domain.ChatMessage) string {
	ctx, span := g.tracer.Start(ctx, "AnswerGateway.Generate",
		trace.WithAttributes(attribute.Int("answer.turns", len(turns))))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	started := time.Now()
	reply, err := g.llm.Chat(callCtx, domain.ChatRequest{
		Messages:    turns,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	g.latency.Record(ctx, time.Since(started).Seconds())
	g.calls.Add(ctx, 1)

	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		g.falls.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer fallback")
		g.logger.ErrorContext(ctx, "answer generation failed",
			"err", err,
			"timeout", errors.Is(err, context.DeadlineExceeded),
		)
		return FallbackReply
	}
	return reply
}
