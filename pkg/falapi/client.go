package falapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultQueueURL   = "https://queue.fal.run"
	DefaultBillingURL = "https://rest.alpha.fal.ai/billing/user_balance"
	// MaxResponseBytes caps JSON replies and downloaded images.
	MaxResponseBytes  = 32 << 20
)

var ErrResponseTooLarge = errors.New("fal api response exceeds size limit")

// APIError is returned for any response with status >= 400.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal api request failed with status %d: %s", e.StatusCode, e.Body)
}

// Message extracts a human readable message from the error body when it is JSON.
func (e *APIError) Message() string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &payload) == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case payload.Detail != nil:
			return fmt.Sprint(payload.Detail)
		}
	}
	return strings.TrimSpace(e.Body)
}

type Client struct {
	apiKey     string
	queueURL   string
	billingURL string
	httpClient *http.Client
	logger     *zap.Logger
	maxBody    int64
}

type Option func(*Client)

func WithQueueURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.queueURL = strings.TrimSuffix(u, "/")
		}
	}
}

func WithBillingURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.billingURL = u
		}
	}
}

// WithMaxResponseBytes overrides MaxResponseBytes.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func NewClient(apiKey string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		queueURL:   DefaultQueueURL,
		billingURL: DefaultBillingURL,
		// 请求超时由调用方的 context 控制
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.Named("falapi"),
		maxBody:    MaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelEndpoint returns the queue endpoint for a model id such as "fal-ai/flux/dev".
func (c *Client) ModelEndpoint(modelID string) string {
	return c.queueURL + "/" + strings.TrimPrefix(modelID, "/")
}

// 内部方法用于执行请求
func (c *Client) doRequest(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("failed to marshal payload", zap.Error(err))
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		c.logger.Warn("failed to create request", zap.Error(err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send request", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		c.logger.Warn("failed to read response body", zap.Error(err))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("API request failed", zap.Int("status", resp.StatusCode), zap.String("body", string(respBody)))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Debug("API request successful", zap.String("url", url), zap.Int("status", resp.StatusCode))
	return respBody, nil
}

// readLimited reads at most limit bytes of r and fails with ErrResponseTooLarge beyond that.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}
