// Package app wires configuration into a running chat service. It is shared
// by the Lambda entry point and the standalone server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"support-agent/handler"
	"support-agent/internal/catalog"
	"support-agent/internal/config"
	"support-agent/internal/followup"
	"support-agent/internal/integrations/anthropic"
	"support-agent/internal/integrations/delayqueue"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/integrations/paramstore"
	"support-agent/internal/repository"
	"support-agent/internal/usecase"
)

const followUpWorkers = 4

// App is a fully wired service. Shutdown must be called once it is no longer
// serving requests.
type App struct {
	Handler   *handler.Handler
	FollowUps *handler.FollowUpConsumer
	Chat      *usecase.ChatService
	// Dispatcher is nil when follow-ups go through the delay queue.
	Dispatcher *followup.Dispatcher

	closers []func() error
}

// Deps overrides parts of the wiring. Zero fields are built from config.
type Deps struct {
	AWS     *aws.Config
	Store   usecase.SessionStore
	LLM     usecase.LLMClient
	Clock   followup.Clock
	Catalog *catalog.Store
}

// New builds an App from cfg. Follow-ups use the SQS delay queue when
// cfg.FollowUpQueueURL is set and an in-process dispatcher otherwise.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	lazyAWS := func() (aws.Config, error) {
		if deps.AWS != nil {
			return *deps.AWS, nil
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		deps.AWS = &awsCfg
		return awsCfg, nil
	}

	store := deps.Store
	if store == nil {
		s, err := a.sessionStore(cfg, lazyAWS)
		if err != nil {
			return nil, a.abort(err)
		}
		store = s
	}

	cat := deps.Catalog
	if cat == nil {
		c, err := catalog.NewStore(cfg.CatalogDSN)
		if err != nil {
			return nil, a.abort(fmt.Errorf("app: open catalog: %w", err))
		}
		a.closers = append(a.closers, c.Close)
		cat = c
	}
	searcher, err := catalog.NewSearcher(cat, cfg.CurrencySymbol, logger)
	if err != nil {
		return nil, a.abort(err)
	}

	llm := deps.LLM
	if llm == nil {
		l, err := answerClient(cfg, lazyAWS)
		if err != nil {
			return nil, a.abort(err)
		}
		llm = l
	}
	answers, err := usecase.NewAnswerGateway(llm, usecase.AnswerOptions{
		Timeout:     cfg.Answer.Timeout,
		MaxTokens:   cfg.Answer.MaxTokens,
		Temperature: cfg.Answer.Temperature,
	}, logger)
	if err != nil {
		return nil, a.abort(err)
	}

	var (
		scheduler usecase.FollowUpScheduler
		disp      *followup.Dispatcher
	)
	if cfg.FollowUpQueueURL != "" {
		q, err := followUpQueue(cfg, lazyAWS)
		if err != nil {
			return nil, a.abort(err)
		}
		scheduler = q
	} else {
		disp = followup.NewDispatcher(deps.Clock, logger, cfg.FollowUpTimeout, followup.WithWorkers(followUpWorkers))
		scheduler = disp
	}

	svc, err := usecase.NewChatService(store, searcher, answers, scheduler, usecase.ChatConfig{
		SystemPrompt:     cfg.SystemPrompt,
		Currency:         cfg.CurrencySymbol,
		MaxMessageLength: cfg.MaxMessageLength,
		EscalationDelay:  cfg.EscalationDelay,
		FollowUpTimeout:  cfg.FollowUpTimeout,
	}, logger)
	if err != nil {
		return nil, a.abort(err)
	}
	if disp != nil {
		if err := disp.Start(svc.DeliverFollowUp); err != nil {
			return nil, a.abort(err)
		}
		a.Dispatcher = disp
	}
	a.Chat = svc

	h, err := handler.NewHandler(svc, logger)
	if err != nil {
		return nil, a.abort(err)
	}
	a.Handler = h

	consumer, err := handler.NewFollowUpConsumer(svc, logger)
	if err != nil {
		return nil, a.abort(err)
	}
	a.FollowUps = consumer

	logger.Info("service wired",
		"store_backend", cfg.StoreBackend,
		"answer_provider", cfg.Answer.Provider,
		"escalation_delay", cfg.EscalationDelay.String(),
		"follow_up_queue", cfg.FollowUpQueueURL != "",
	)
	return a, nil
}

func (a *App) sessionStore(cfg config.Config, loadAWS func() (aws.Config, error)) (usecase.SessionStore, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := repository.NewSQLiteStore(cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("app: open session store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		api := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.DynamoDBEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			}
		})
		return repository.New(api, cfg.StateTable)
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

func followUpQueue(cfg config.Config, loadAWS func() (aws.Config, error)) (*delayqueue.Scheduler, error) {
	awsCfg, err := loadAWS()
	if err != nil {
		return nil, err
	}
	api := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.SQSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SQSEndpoint)
		}
	})
	return delayqueue.New(api, cfg.FollowUpQueueURL)
}

type keySource interface {
	APIKey(ctx context.Context) (string, error)
}

func answerClient(cfg config.Config, loadAWS func() (aws.Config, error)) (usecase.LLMClient, error) {
	var keys keySource
	if cfg.Answer.APIKey != "" {
		keys = paramstore.StaticToken(cfg.Answer.APIKey)
	} else {
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		src, err := paramstore.NewTokenSource(ssmClient, cfg.TokenParameter())
		if err != nil {
			return nil, err
		}
		keys = src
	}

	switch cfg.Answer.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(keys,
			anthropic.WithBaseURL(cfg.Answer.BaseURL),
			anthropic.WithModel(cfg.Answer.Model),
		)
	case config.ProviderOpenAI:
		return openai.NewClient(keys,
			openai.WithBaseURL(cfg.Answer.BaseURL),
			openai.WithModel(cfg.Answer.Model),
		)
	default:
		return nil, fmt.Errorf("app: unknown answer provider %q", cfg.Answer.Provider)
	}
}

// Shutdown delivers or drops pending follow-ups within ctx, then releases
// the stores.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: dispatcher shutdown: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) abort(err error) error {
	return errors.Join(err, a.Shutdown(context.Background()))
}
