// Package handler exposes the chat service over HTTP, both as an API Gateway
// proxy Lambda and as echo routes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
)

const (
	correlationHeader     = "X-Correlation-Id"
	historyDeletedMsg     = "Chat history deleted"
	errorNotFound         = "NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	DeleteHistory(ctx context.Context, sessionID string) error
}

type Handler struct {
	uc     ChatUseCase
	logger *slog.Logger
}

type chatRequest struct {
	Message   *string `json:"message"`
	SessionID string  `json:"sessionId"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

type historyResponse struct {
	History []domain.ChatMessage `json:"history"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler builds a Handler. A nil logger uses slog.Default.
func NewHandler(uc ChatUseCase, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, logger: logger}, nil
}

// result is a transport-neutral response.
type result struct {
	status int
	body   any
}

func (h *Handler) chat(ctx context.Context, correlationID string, raw []byte) result {
	var req chatRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Message == nil {
		h.logger.WarnContext(ctx, "invalid chat request", "correlation_id", correlationID, "err", err)
		return badRequest()
	}

	out, err := h.uc.Chat(ctx, usecase.ChatInput{Message: *req.Message, SessionID: req.SessionID})
	if err != nil {
		return h.failure(ctx, correlationID, "chat", err)
	}
	h.logger.InfoContext(ctx, "chat handled",
		"correlation_id", correlationID,
		"session_id", out.SessionID,
		"escalated", out.Escalated,
	)
	return result{status: http.StatusOK, body: chatResponse{Reply: out.Reply, SessionID: out.SessionID}}
}

func (h *Handler) history(ctx context.Context, correlationID, sessionID string) result {
	msgs, err := h.uc.History(ctx, sessionID)
	if err != nil {
		return h.failure(ctx, correlationID, "history", err)
	}
	return result{status: http.StatusOK, body: historyResponse{History: msgs}}
}

func (h *Handler) deleteHistory(ctx context.Context, correlationID, sessionID string) result {
	if err := h.uc.DeleteHistory(ctx, sessionID); err != nil {
		return h.failure(ctx, correlationID, "delete_history", err)
	}
	h.logger.InfoContext(ctx, "history deleted", "correlation_id", correlationID, "session_id", sessionID)
	return result{status: http.StatusOK, body: deleteResponse{Success: true, Message: historyDeletedMsg}}
}

func (h *Handler) failure(ctx context.Context, correlationID, op string, err error) result {
	code, reason := usecase.Classify(err)
	status := http.StatusInternalServerError
	if code == usecase.ErrorInvalidInput {
		status = http.StatusBadRequest
	} else {
		code = usecase.ErrorInternal
	}

	attrs := []any{"correlation_id", correlationID, "op", op, "code", code, "reason", reason, "err", err}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
	return errorResult(status, string(code))
}

func badRequest() result {
	return errorResult(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
}

func errorResult(status int, code string) result {
	return result{status: status, body: errorResponse{Error: code}}
}

func correlationID(lookup func(string) string) string {
	if v := strings.TrimSpace(lookup(correlationHeader)); v != "" {
		return v
	}
	return newUUID()
}

var newUUID = func() string {
	return uuid.NewString()
}
