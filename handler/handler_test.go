package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
)

type stubUseCase struct {
	out     usecase.ChatOutput
	err     error
	in      usecase.ChatInput
	history []domain.ChatMessage
	deleted string
	called  int
}

func (s *stubUseCase) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.called++
	s.in = in
	return s.out, s.err
}

func (s *stubUseCase) History(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	s.called++
	s.in.SessionID = sessionID
	return s.history, s.err
}

func (s *stubUseCase) DeleteHistory(_ context.Context, sessionID string) error {
	s.called++
	s.deleted = sessionID
	return s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/api/chatbot",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func makeHistoryEvent(method, sessionID string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:     method,
		Path:           "/api/chatbot/history/" + sessionID,
		Headers:        map[string]string{},
		PathParameters: map[string]string{"sessionId": sessionID},
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)

	h, err := NewHandler(&stubUseCase{}, nil)
	require.NoError(t, err)
	require.NotNil(t, h.logger)
}

func TestHandle_LogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	uc := &stubUseCase{err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_append_error"}}
	h, err := NewHandler(uc, logger)
	require.NoError(t, err)

	event := makeEvent(`{"message":"hi"}`)
	event.Headers["X-Correlation-Id"] = "corr-42"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	require.Equal(t, "request failed", line["msg"])
	require.Equal(t, "corr-42", line["correlation_id"])
	require.Equal(t, "store_append_error", line["reason"])
}

func TestHandle_ChatHappyPath(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Reply: "We have blue mugs.", SessionID: "sess-1"}}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"blue mug","sessionId":"sess-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{Message: "blue mug", SessionID: "sess-1"}, uc.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "We have blue mugs.", out.Reply)
	require.Equal(t, "sess-1", out.SessionID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_ChatBase64Body(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Reply: "ok", SessionID: "sess-2"}}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"message":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", uc.in.Message)
	require.Empty(t, uc.in.SessionID)
}

func TestHandle_InvalidBody(t *testing.T) {
	cases := map[string]string{
		"not json":        `not-json`,
		"missing message": `{"sessionId":"sess-1"}`,
		"wrong type":      `{"message":42}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			uc := &stubUseCase{}
			h, err := NewHandler(uc, quietLogger())
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(body))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Zero(t, uc.called)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
		})
	}
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "empty message", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "too long", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "message_too_long"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "store failure", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_append_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc, quietLogger())
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hello"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Reply: "ok", SessionID: "sess-1"}}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	event := makeEvent(`{"message":"hello"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesCorrelationID(t *testing.T) {
	prev := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = prev })

	h, err := NewHandler(&stubUseCase{}, quietLogger())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeHistoryEvent(http.MethodGet, "sess-1"))
	require.NoError(t, err)
	require.Equal(t, "generated-id", resp.Headers["X-Correlation-Id"])
}

func TestHandle_History(t *testing.T) {
	uc := &stubUseCase{history: []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeHistoryEvent(http.MethodGet, "sess-1"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "sess-1", uc.in.SessionID)
	require.JSONEq(t, `{"history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`, resp.Body)
}

func TestHandle_HistoryFromPathWithoutParameters(t *testing.T) {
	uc := &stubUseCase{history: []domain.ChatMessage{}}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	event := makeHistoryEvent(http.MethodGet, "sess-9")
	event.PathParameters = nil
	event.Path = "/prod/api/chatbot/history/sess-9"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "sess-9", uc.in.SessionID)
	require.JSONEq(t, `{"history":[]}`, resp.Body)
}

func TestHandle_HistoryStoreError(t *testing.T) {
	uc := &stubUseCase{err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_read_error"}}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeHistoryEvent(http.MethodGet, "sess-1"))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInternal), parseBody[errorResponse](t, resp.Body).Error)
}

func TestHandle_DeleteHistory(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc, quietLogger())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeHistoryEvent(http.MethodDelete, "sess-1"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "sess-1", uc.deleted)
	require.JSONEq(t, `{"success":true,"message":"Chat history deleted"}`, resp.Body)
}

func TestHandle_Routing(t *testing.T) {
	cases := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{name: "unknown path", method: http.MethodGet, path: "/api/other", status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "get on chat", method: http.MethodGet, path: "/api/chatbot", status: http.StatusMethodNotAllowed, code: "METHOD_NOT_ALLOWED"},
		{name: "post on history", method: http.MethodPost, path: "/api/chatbot/history/s1", status: http.StatusMethodNotAllowed, code: "METHOD_NOT_ALLOWED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{}
			h, err := NewHandler(uc, quietLogger())
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: tc.method, Path: tc.path})
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, parseBody[errorResponse](t, resp.Body).Error)
			require.Zero(t, uc.called)
		})
	}
}
