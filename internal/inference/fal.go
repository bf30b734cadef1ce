package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/nerdneilsfield/dreamforge/pkg/falapi"
)

// Fal runs generations through the fal.ai queue: submit, poll, fetch, download.
type Fal struct {
	client         *falapi.Client
	negativePrompt string
	pollInterval   time.Duration
}

func NewFal(client *falapi.Client, negativePrompt string, pollInterval time.Duration) *Fal {
	return &Fal{client: client, negativePrompt: negativePrompt, pollInterval: pollInterval}
}

func (f *Fal) Generate(ctx context.Context, prompt, modelID string) (Image, error) {
	endpoint := f.client.ModelEndpoint(modelID)
	requestID, err := f.client.SubmitGenerationRequest(ctx, endpoint, falapi.GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: f.negativePrompt,
	})
	if err != nil {
		return Image{}, Normalize(err)
	}

	result, err := f.client.PollForResult(ctx, requestID, endpoint, f.pollInterval)
	if err != nil {
		return Image{}, Normalize(err)
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return Image{}, &Error{Reason: ReasonMalformed, Err: fmt.Errorf("request %s returned no images", requestID)}
	}

	data, contentType, err := f.client.DownloadImage(ctx, result.Images[0].URL)
	if err != nil {
		return Image{}, Normalize(err)
	}
	return checkImage(data, contentType)
}

// Balance returns the fal account balance.
func (f *Fal) Balance(ctx context.Context) (float64, error) {
	return f.client.GetAccountBalance(ctx)
}
