package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/aidash/pkg/logger"
)

const maxAudioBytes = 32 << 20

// Music calls the inference endpoint, retrying while the model is loading.
// The whole exchange, retries included, is bounded by MusicTimeout.
func (g *Gateway) Music(ctx context.Context, req MusicRequest) (*MediaResult, error) {
	if g.cfg.HuggingFaceToken == "" || g.cfg.MusicURL == "" {
		return nil, fmt.Errorf("%w: music", ErrNotConfigured)
	}
	if g.cfg.MusicTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.MusicTimeout)
		defer cancel()
	}

	duration := req.Duration
	if duration == 0 {
		duration = 10
	}
	body, err := json.Marshal(map[string]any{
		"inputs": req.Prompt,
		"parameters": map[string]any{
			// ~50 tokens per second of audio for musicgen models
			"max_new_tokens": duration * 50,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode music request: %w", err)
	}

	start := time.Now()
	var (
		audio       []byte
		contentType string
		attempt     int
	)
	backoff := retry.WithMaxRetries(g.cfg.MusicRetries, retry.NewConstant(max(g.cfg.MusicRetryDelay, time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var genErr error
		audio, contentType, genErr = g.generateMusic(ctx, body)
		if errors.Is(genErr, ErrModelLoading) {
			g.log.InfoContext(ctx, "music model loading, retrying", logger.Attempt(attempt))
			return retry.RetryableError(genErr)
		}
		return genErr
	})
	if err = g.observe(ctx, "music", start, err); err != nil {
		return nil, err
	}

	if g.media == nil {
		return &MediaResult{
			URL:         "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(audio),
			ContentType: contentType,
		}, nil
	}
	url, err := g.media.Put(ctx, "music", contentType, audio)
	if err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}
	return &MediaResult{URL: url, ContentType: contentType}, nil
}

func (g *Gateway) generateMusic(ctx context.Context, body []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.MusicURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build music request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.HuggingFaceToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, "", ErrModelLoading
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("%w: music endpoint returned %d: %s", ErrVendor, resp.StatusCode, vendorMessage(data))
	case len(data) == 0:
		return nil, "", ErrEmptyResponse
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

// vendorMessage extracts {"error": "..."} from a vendor error body.
func vendorMessage(body []byte) string {
	var e struct {
		Error  any    `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil {
		if s, ok := e.Error.(string); ok && s != "" {
			return s
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
