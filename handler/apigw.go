package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const (
	chatPath        = "/api/chatbot"
	historyPrefix   = "/api/chatbot/history/"
	sessionIDParam  = "sessionId"
	jsonContentType = "application/json"
)

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(func(name string) string { return headerValue(req.Headers, name) })

	var res result
	path := strings.TrimRight(req.Path, "/")
	switch {
	case path == chatPath || strings.HasSuffix(path, chatPath):
		if req.HTTPMethod != http.MethodPost {
			res = errorResult(http.StatusMethodNotAllowed, errorMethodNotAllowed)
			break
		}
		body, err := requestBody(req)
		if err != nil {
			res = badRequest()
			break
		}
		res = h.chat(ctx, corrID, body)
	case strings.Contains(path, historyPrefix):
		sessionID := req.PathParameters[sessionIDParam]
		if sessionID == "" {
			sessionID = path[strings.LastIndex(path, historyPrefix)+len(historyPrefix):]
		}
		switch req.HTTPMethod {
		case http.MethodGet:
			res = h.history(ctx, corrID, sessionID)
		case http.MethodDelete:
			res = h.deleteHistory(ctx, corrID, sessionID)
		default:
			res = errorResult(http.StatusMethodNotAllowed, errorMethodNotAllowed)
		}
	default:
		res = errorResult(http.StatusNotFound, errorNotFound)
	}

	return toProxyResponse(res, corrID), nil
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func toProxyResponse(res result, corrID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(res.body)
	if err != nil {
		res.status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: res.status,
		Headers: map[string]string{
			"Content-Type":    jsonContentType,
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
