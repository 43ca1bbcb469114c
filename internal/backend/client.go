// Package backend - HTTP клиент основного REST API: генерация, таксономия
// ключевых слов, активности проекта и сохранение контента.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// UserIDHeader - заголовок, которым бэкенду передается идентификатор пользователя.
const UserIDHeader = "X-User-ID"

type userKey struct{}

// WithUser прикрепляет идентификатор пользователя к контексту запроса.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// StatusError - неуспешный HTTP ответ бэкенда.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client - клиент REST API бэкенда.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient создает клиент. Таймаут задается на уровне контекста каждого вызова,
// defaultTimeout применяется к вызовам без собственного дедлайна.
func NewClient(baseURL string, defaultTimeout time.Duration, token string, logger *zap.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL for backend: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		token:      token,
		timeout:    defaultTimeout,
		logger:     logger.Named("BackendClient"),
	}, nil
}

// do выполняет JSON запрос. out может быть nil, если тело ответа не нужно.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	fullURL := c.baseURL + path
	log := c.logger.With(zap.String("method", method), zap.String("url", fullURL))

	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			log.Error("Failed to marshal request payload", zap.Error(err))
			return fmt.Errorf("internal error marshalling request: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("internal error creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if userID := userFrom(ctx); userID != "" {
		httpReq.Header.Set(UserIDHeader, userID)
	}

	log.Debug("Sending request to backend")
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Warn("HTTP request to backend failed", zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("request to backend timed out: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("failed to communicate with backend: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Warn("Received error response from backend", zap.Int("status", httpResp.StatusCode), zap.ByteString("body", respBody))
		return &StatusError{Method: method, Path: path, Code: httpResp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		log.Error("Failed to unmarshal backend response", zap.ByteString("body", respBody), zap.Error(err))
		return fmt.Errorf("invalid response format from backend: %w", err)
	}
	return nil
}
