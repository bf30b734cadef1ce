package inference

import (
	"context"

	"github.com/nerdneilsfield/dreamforge/pkg/hfapi"
)

// HuggingFace calls the hosted inference API, which answers with raw image bytes.
type HuggingFace struct {
	client         *hfapi.Client
	negativePrompt string
}

func NewHuggingFace(client *hfapi.Client, negativePrompt string) *HuggingFace {
	return &HuggingFace{client: client, negativePrompt: negativePrompt}
}

func (h *HuggingFace) Generate(ctx context.Context, prompt, modelID string) (Image, error) {
	data, contentType, err := h.client.TextToImage(ctx, modelID, prompt, h.negativePrompt)
	if err != nil {
		return Image{}, Normalize(err)
	}
	return checkImage(data, contentType)
}
