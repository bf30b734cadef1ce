// Package inference turns a prompt into image bytes through an external text-to-image provider.
// Every provider failure is normalized into an *Error carrying one short reason.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/pkg/falapi"
	"github.com/nerdneilsfield/dreamforge/pkg/hfapi"
)

// Failure reasons.
const (
	ReasonQuotaExceeded = "quota exceeded"
	ReasonTimeout       = "timeout"
	ReasonModelLoading  = "model is loading"
	ReasonAuthFailed    = "upstream authentication failed"
	ReasonUnavailable   = "upstream unavailable"
	ReasonMalformed     = "malformed response"
)

// Providers.
const (
	ProviderHuggingFace = "huggingface"
	ProviderFal         = "fal"
)

// Image is one generated image.
type Image struct {
	Data        []byte
	ContentType string
}

// Error is a normalized provider failure.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway performs one text-to-image call.
type Gateway interface {
	Generate(ctx context.Context, prompt, modelID string) (Image, error)
}

// BalanceReporter is implemented by gateways whose provider exposes an account balance.
type BalanceReporter interface {
	Balance(ctx context.Context) (float64, error)
}

// ErrNoBalance is returned when the configured provider has no balance endpoint.
var ErrNoBalance = errors.New("provider does not report an account balance")

// New builds the gateway selected by cfg.Provider, wrapped with retries when cfg.MaxRetries > 0.
func New(cfg config.InferenceConfig, logger *zap.Logger) (Gateway, error) {
	httpClient := &http.Client{}

	var gw Gateway
	switch cfg.Provider {
	case "", ProviderHuggingFace:
		gw = NewHuggingFace(hfapi.NewClient(cfg.APIKey, cfg.BaseURL, httpClient, logger), cfg.NegativePrompt)
	case ProviderFal:
		client := falapi.NewClient(cfg.APIKey, logger, falapi.WithQueueURL(cfg.BaseURL), falapi.WithHTTPClient(httpClient))
		gw = NewFal(client, cfg.NegativePrompt, cfg.PollInterval)
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}

	if cfg.MaxRetries > 0 {
		gw = WithRetry(gw, cfg.MaxRetries, cfg.RetryBackoff, logger)
	}
	return gw, nil
}

// checkImage rejects payloads that are empty or not recognizably an image.
func checkImage(data []byte, reported string) (Image, error) {
	if len(data) == 0 {
		return Image{}, &Error{Reason: ReasonMalformed, Err: fmt.Errorf("empty image payload")}
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return Image{}, &Error{Reason: ReasonMalformed, Err: fmt.Errorf("payload is %s (reported %q)", mtype.String(), reported)}
	}
	return Image{Data: data, ContentType: mtype.String()}, nil
}
