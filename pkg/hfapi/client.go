// Package hfapi is a minimal client for the Hugging Face hosted inference API.
package hfapi

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
	DefaultBaseURL   = "https://api-inference.huggingface.co/models"
	// MaxResponseBytes caps a single response body; generated images stay far below it.
	MaxResponseBytes = 32 << 20
)

var ErrResponseTooLarge = errors.New("inference api response exceeds size limit")

// APIError is returned for any response with status >= 400.
// The API reports errors as {"error": "...", "estimated_time": n}.
type APIError struct {
	StatusCode    int
	Message       string
	EstimatedTime float64
}

func (e *APIError) Error() string {
	if e.EstimatedTime > 0 {
		return fmt.Sprintf("inference api status %d: %s (estimated %.0fs)", e.StatusCode, e.Message, e.EstimatedTime)
	}
	return fmt.Sprintf("inference api status %d: %s", e.StatusCode, e.Message)
}

type Parameters struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

type TextToImageRequest struct {
	Inputs     string     `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	maxBody    int64
}

func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.Named("hfapi"),
		maxBody:    MaxResponseBytes,
	}
}

// TextToImage runs modelID on prompt and returns the raw image bytes and their reported content type.
func (c *Client) TextToImage(ctx context.Context, modelID, prompt, negativePrompt string) ([]byte, string, error) {
	payload := TextToImageRequest{
		Inputs:     prompt,
		Parameters: Parameters{NegativePrompt: negativePrompt},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := c.baseURL + "/" + strings.TrimPrefix(modelID, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	c.logger.Debug("Submitting text-to-image request", zap.String("model", modelID), zap.Int("prompt_len", len(prompt)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send request", zap.String("model", modelID), zap.Error(err))
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		c.logger.Warn("failed to read response body", zap.String("model", modelID), zap.Error(err))
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Error         string  `json:"error"`
			EstimatedTime float64 `json:"estimated_time"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.EstimatedTime = payload.EstimatedTime
		}
		c.logger.Warn("API request failed", zap.Int("status", resp.StatusCode), zap.String("error", apiErr.Message))
		return nil, "", apiErr
	}

	return body, resp.Header.Get("Content-Type"), nil
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
