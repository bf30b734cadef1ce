package falapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Queue statuses.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// GenerateRequest is the payload submitted to a text-to-image queue endpoint.
type GenerateRequest struct {
	Prompt              string `json:"prompt"`
	NegativePrompt      string `json:"negative_prompt,omitempty"`
	ImageSize           string `json:"image_size,omitempty"`
	NumImages           int    `json:"num_images,omitempty"`
	EnableSafetyChecker bool   `json:"enable_safety_checker"`
	OutputFormat        string `json:"output_format,omitempty"`
}

type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type StatusResponse struct {
	Status        string       `json:"status"`
	QueuePosition *int         `json:"queue_position,omitempty"`
	Error         *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Message string `json:"message"`
}

// GenerateResponse is the final result fetched after completion.
type GenerateResponse struct {
	Images          []ImageInfo `json:"images"`
	Seed            uint64      `json:"seed"`
	HasNsfwConcepts []bool      `json:"has_nsfw_concepts"`
	Prompt          string      `json:"prompt"`
}

type ImageInfo struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// FailedError reports a request the queue marked FAILED.
type FailedError struct {
	RequestID string
	Message   string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("generation failed: %s (request_id: %s)", e.Message, e.RequestID)
}

// SubmitGenerationRequest submits the task and returns the request ID.
func (c *Client) SubmitGenerationRequest(ctx context.Context, modelEndpoint string, payload GenerateRequest) (string, error) {
	c.logger.Debug("Submitting generation request", zap.String("endpoint", modelEndpoint), zap.String("prompt", payload.Prompt))
	if payload.NumImages == 0 {
		payload.NumImages = 1
	}
	if payload.OutputFormat == "" {
		payload.OutputFormat = "png"
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, modelEndpoint, payload)
	if err != nil {
		return "", err
	}

	var response SubmitResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal submission response: %w", err)
	}
	if response.RequestID == "" {
		return "", fmt.Errorf("request_id not found in submission response: %s", string(respBody))
	}
	return response.RequestID, nil
}

// GetRequestStatus polls the status endpoint.
func (c *Client) GetRequestStatus(ctx context.Context, requestID, modelEndpoint string) (*StatusResponse, error) {
	statusURL := fmt.Sprintf("%s/requests/%s/status", modelEndpoint, requestID)
	body, err := c.doRequest(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, err
	}
	var response StatusResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status response: %w", err)
	}
	return &response, nil
}

// GetGenerationResult fetches the final result.
func (c *Client) GetGenerationResult(ctx context.Context, requestID, modelEndpoint string) (*GenerateResponse, error) {
	resultURL := fmt.Sprintf("%s/requests/%s", modelEndpoint, requestID)
	body, err := c.doRequest(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, err
	}
	var response GenerateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generation result: %w", err)
	}
	return &response, nil
}

// PollForResult polls the status until the request completes or ctx expires, then fetches the result.
func (c *Client) PollForResult(ctx context.Context, requestID, modelEndpoint string, pollInterval time.Duration) (*GenerateResponse, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling request %s: %w", requestID, ctx.Err())
		case <-ticker.C:
			statusResp, err := c.GetRequestStatus(ctx, requestID, modelEndpoint)
			if err != nil {
				return nil, fmt.Errorf("error polling status for %s: %w", requestID, err)
			}

			c.logger.Debug("Polling status for request", zap.String("request_id", requestID), zap.String("status", statusResp.Status))

			switch statusResp.Status {
			case StatusCompleted:
				return c.GetGenerationResult(ctx, requestID, modelEndpoint)
			case StatusFailed:
				msg := "unknown error"
				if statusResp.Error != nil && statusResp.Error.Message != "" {
					msg = statusResp.Error.Message
				}
				return nil, &FailedError{RequestID: requestID, Message: msg}
			case StatusInProgress, StatusInQueue:
				continue
			default:
				return nil, fmt.Errorf("unknown status '%s' for request %s", statusResp.Status, requestID)
			}
		}
	}
}

// DownloadImage fetches a result image and returns its bytes and reported content type.
func (c *Client) DownloadImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, "", &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}
