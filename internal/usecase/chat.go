package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"support-agent/internal/domain"
	"support-agent/internal/followup"
)

const (
	// EscalationNotice is the immediate reply to an escalated message.
	EscalationNotice = "⚠️ I see that you're having an issue. I'm escalating this to our human support team. Someone will assist you shortly."
	// HumanAgentNotice is written to the session after the escalation delay.
	HumanAgentNotice = "👩‍💼 Human Agent: Hi! I'm your support specialist. Could you provide more details about the issue?"

	defaultMaxMessageLength = 16000
	defaultEscalationDelay  = 2 * time.Second
	defaultFollowUpTimeout  = 5 * time.Second
	defaultCurrency         = "₹"
)

type SessionStore interface {
	Append(ctx context.Context, sessionID, role, content string) error
	ReadOrdered(ctx context.Context, sessionID string) ([]domain.Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type ProductSearcher interface {
	Search(ctx context.Context, text string) []domain.CatalogEntry
}

type AnswerGenerator interface {
	Generate(ctx context.Context, turns []domain.ChatMessage) string
}

type FollowUpScheduler interface {
	Schedule(ctx context.Context, task followup.Task) (followup.Task, error)
}

// ChatConfig carries the tunables of ChatService. Zero values take defaults.
type ChatConfig struct {
	SystemPrompt     string
	Currency         string
	MaxMessageLength int
	EscalationDelay  time.Duration
	// FollowUpTimeout bounds the write of a follow-up message. It does not
	// cover waiting for a turn already running on the same session.
	FollowUpTimeout time.Duration
}

type ChatService struct {
	store     SessionStore
	search    ProductSearcher
	answers   AnswerGenerator
	followups FollowUpScheduler
	cfg       ChatConfig
	locks     *sessionLocks
	logger    *slog.Logger

	tracer      trace.Tracer
	escalations metric.Int64Counter
}

type ChatInput struct {
	Message   string
	SessionID string
}

type ChatOutput struct {
	Reply     string
	SessionID string
	Escalated bool
}

func NewChatService(store SessionStore, search ProductSearcher, answers AnswerGenerator, followups FollowUpScheduler, cfg ChatConfig, logger *slog.Logger) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if search == nil {
		return nil, errors.New("usecase: product searcher must not be nil")
	}
	if answers == nil {
		return nil, errors.New("usecase: answer generator must not be nil")
	}
	if followups == nil {
		return nil, errors.New("usecase: follow-up scheduler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt()
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}
	if cfg.EscalationDelay <= 0 {
		cfg.EscalationDelay = defaultEscalationDelay
	}
	if cfg.FollowUpTimeout <= 0 {
		cfg.FollowUpTimeout = defaultFollowUpTimeout
	}

	escalations, err := otel.Meter(instrumentationName).Int64Counter("support.chat.escalations",
		metric.WithDescription("Messages routed to the human support flow"))
	if err != nil {
		return nil, err
	}

	return &ChatService{
		store:       store,
		search:      search,
		answers:     answers,
		followups:   followups,
		cfg:         cfg,
		locks:       newSessionLocks(),
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		escalations: escalations,
	}, nil
}

// Chat handles one inbound message. The user message is always appended
// before the reply that answers it, and the whole turn holds the session lock.
// Once the input is valid the turn runs to completion even if ctx is
// cancelled.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	ctx, span := s.tracer.Start(ctx, "ChatService.Chat")
	defer span.End()

	message := in.Message
	if strings.TrimSpace(message) == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.cfg.MaxMessageLength {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}
	span.SetAttributes(attribute.String("session.id", sessionID))
	ctx = context.WithoutCancel(ctx)

	unlock, err := s.locks.lock(ctx, sessionID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "session_lock_error", err)
	}
	defer unlock()

	var out ChatOutput
	if IsEscalation(message) {
		out, err = s.escalate(ctx, sessionID, message)
	} else {
		out, err = s.answer(ctx, sessionID, message)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		return ChatOutput{}, err
	}
	span.SetAttributes(attribute.Bool("chat.escalated", out.Escalated))
	return out, nil
}

func (s *ChatService) escalate(ctx context.Context, sessionID, message string) (ChatOutput, error) {
	s.escalations.Add(ctx, 1)
	if err := s.appendTurn(ctx, sessionID, message, EscalationNotice); err != nil {
		return ChatOutput{}, err
	}

	task, err := s.followups.Schedule(ctx, followup.Task{
		SessionID: sessionID,
		Content:   HumanAgentNotice,
		Delay:     s.cfg.EscalationDelay,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "schedule human agent follow-up failed", "session_id", sessionID, "err", err)
	} else {
		s.logger.InfoContext(ctx, "escalated to human support", "session_id", sessionID, "task_id", task.ID)
	}
	return ChatOutput{Reply: EscalationNotice, SessionID: sessionID, Escalated: true}, nil
}

func (s *ChatService) answer(ctx context.Context, sessionID, message string) (ChatOutput, error) {
	history, err := s.store.ReadOrdered(ctx, sessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "read history failed, continuing without it", "session_id", sessionID, "err", err)
		history = nil
	}

	products := s.search.Search(ctx, message)
	turns := assembleTurns(s.cfg.SystemPrompt, history, products, message, s.cfg.Currency)
	reply := s.answers.Generate(ctx, turns)

	if err := s.appendTurn(ctx, sessionID, message, reply); err != nil {
		return ChatOutput{}, err
	}
	s.logger.InfoContext(ctx, "chat answered",
		"session_id", sessionID,
		"history", len(history),
		"products", len(products),
		"fallback", reply == FallbackReply,
	)
	return ChatOutput{Reply: reply, SessionID: sessionID}, nil
}

func (s *ChatService) appendTurn(ctx context.Context, sessionID, userMessage, reply string) error {
	if err := s.store.Append(ctx, sessionID, domain.RoleUser, userMessage); err != nil {
		return newError(ErrorInternal, "store_append_error", err)
	}
	if err := s.store.Append(ctx, sessionID, domain.RoleAssistant, reply); err != nil {
		return newError(ErrorInternal, "store_append_error", err)
	}
	return nil
}

// History returns the stored transcript of a session in order.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	msgs, err := s.store.ReadOrdered(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "store_read_error", err)
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// DeleteHistory removes the transcript of a session. Unknown sessions succeed.
func (s *ChatService) DeleteHistory(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	unlock, err := s.locks.lock(ctx, sessionID)
	if err != nil {
		return newError(ErrorInternal, "session_lock_error", err)
	}
	defer unlock()

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "store_delete_error", err)
	}
	return nil
}

// DeliverFollowUp writes a deferred assistant message. It is the handler of
// the follow-up dispatcher and of the follow-up queue consumer.
//
// Waiting for the session lock ignores ctx: a turn in flight on the same
// session is bounded by its own answer timeout, and the message must land
// after that turn's pair. Only the write is bounded by FollowUpTimeout.
func (s *ChatService) DeliverFollowUp(ctx context.Context, task followup.Task) error {
	ctx = context.WithoutCancel(ctx)
	unlock, err := s.locks.lock(ctx, task.SessionID)
	if err != nil {
		return fmt.Errorf("usecase: DeliverFollowUp lock: %w", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FollowUpTimeout)
	defer cancel()
	if err := s.store.Append(ctx, task.SessionID, domain.RoleAssistant, task.Content); err != nil {
		return fmt.Errorf("usecase: DeliverFollowUp: %w", err)
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
