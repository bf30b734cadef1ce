package falapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newQueueServer(t *testing.T, finalStatus string) *httptest.Server {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/fal-ai/test-model", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key secret", r.Header.Get("Authorization"))
		var req GenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a cat", req.Prompt)
		_, _ = fmt.Fprint(w, `{"request_id":"req-1","status":"IN_QUEUE"}`)
	})
	mux.HandleFunc("/fal-ai/test-model/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			_, _ = fmt.Fprint(w, `{"status":"IN_PROGRESS"}`)
			return
		}
		if finalStatus == StatusFailed {
			_, _ = fmt.Fprint(w, `{"status":"FAILED","error":{"message":"nsfw"}}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"status":"COMPLETED"}`)
	})
	mux.HandleFunc("/fal-ai/test-model/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"images":[{"url":"%s/files/out.png","content_type":"image/png"}]}`, srv.URL)
	})
	mux.HandleFunc("/files/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitPollAndDownload(t *testing.T) {
	srv := newQueueServer(t, StatusCompleted)
	c := NewClient("secret", zap.NewNop(), WithQueueURL(srv.URL))
	ctx := context.Background()

	endpoint := c.ModelEndpoint("fal-ai/test-model")
	id, err := c.SubmitGenerationRequest(ctx, endpoint, GenerateRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)

	result, err := c.PollForResult(ctx, id, endpoint, 5*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, result.Images, 1)

	data, contentType, err := c.DownloadImage(ctx, result.Images[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data)
}

func TestPollReportsFailure(t *testing.T) {
	srv := newQueueServer(t, StatusFailed)
	c := NewClient("secret", zap.NewNop(), WithQueueURL(srv.URL))
	endpoint := c.ModelEndpoint("fal-ai/test-model")

	_, err := c.PollForResult(context.Background(), "req-1", endpoint, 5*time.Millisecond)
	var failed *FailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "nsfw", failed.Message)
}

func TestPollHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"status":"IN_QUEUE"}`)
	}))
	defer srv.Close()
	c := NewClient("secret", zap.NewNop(), WithQueueURL(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.PollForResult(ctx, "req-1", c.ModelEndpoint("m"), 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAPIErrorAndBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/billing" {
			_, _ = fmt.Fprint(w, `12.5`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"detail":"invalid key"}`)
	}))
	defer srv.Close()
	c := NewClient("secret", zap.NewNop(), WithQueueURL(srv.URL), WithBillingURL(srv.URL+"/billing"))

	_, err := c.SubmitGenerationRequest(context.Background(), c.ModelEndpoint("m"), GenerateRequest{Prompt: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid key", apiErr.Message())

	balance, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, balance, 0.0001)
}

func TestResponseSizeLimit(t *testing.T) {
	srv := newQueueServer(t, StatusCompleted)
	ctx := context.Background()

	// the submit reply is about 40 bytes and the image 8
	c := NewClient("secret", zap.NewNop(), WithQueueURL(srv.URL), WithMaxResponseBytes(8))
	_, err := c.SubmitGenerationRequest(ctx, c.ModelEndpoint("fal-ai/test-model"), GenerateRequest{Prompt: "a cat"})
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	data, _, err := c.DownloadImage(ctx, srv.URL+"/files/out.png")
	require.NoError(t, err)
	assert.Len(t, data, 8)

	c = NewClient("secret", zap.NewNop(), WithQueueURL(srv.URL), WithMaxResponseBytes(4))
	_, _, err = c.DownloadImage(ctx, srv.URL+"/files/out.png")
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}
