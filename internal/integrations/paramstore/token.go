package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// tokenPayload is the expected JSON shape stored in SSM for an API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// StaticToken is an API key supplied directly through configuration.
type StaticToken string

func (t StaticToken) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", errors.New("paramstore: static token is empty")
	}
	return string(t), nil
}

// TokenSource reads an API token parameter on first use and caches it for the
// lifetime of the process. Failed lookups are not cached.
type TokenSource struct {
	getter Getter
	name   string

	mu    sync.Mutex
	token string
}

func NewTokenSource(g Getter, name string) (*TokenSource, error) {
	if g == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name must not be empty")
	}
	return &TokenSource{getter: g, name: name}, nil
}

func (s *TokenSource) APIKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	raw, err := s.getter.GetParameter(ctx, s.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	token, err := parseToken(raw)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

func parseToken(raw string) (string, error) {
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return tp.Token, nil
}
