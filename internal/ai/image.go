package ai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func (g *Gateway) Image(ctx context.Context, req ImageRequest) (*MediaResult, error) {
	if g.openai == nil {
		return nil, fmt.Errorf("%w: image", ErrNotConfigured)
	}
	size := req.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	start := time.Now()
	resp, err := g.openai.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          g.cfg.ImageModel,
		Size:           size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err == nil && (len(resp.Data) == 0 || resp.Data[0].URL == "") {
		err = ErrEmptyResponse
	}
	if err = g.observe(ctx, "image", start, err); err != nil {
		return nil, err
	}
	return &MediaResult{URL: resp.Data[0].URL, ContentType: "image/png"}, nil
}
