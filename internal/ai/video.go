package ai

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

	"github.com/sethvargo/go-retry"
)

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

var errPredictionPending = errors.New("prediction pending")

// Video starts a Replicate prediction and polls it until it finishes or
// VideoTimeout elapses.
func (g *Gateway) Video(ctx context.Context, req VideoRequest) (*MediaResult, error) {
	if g.cfg.ReplicateToken == "" || g.cfg.VideoModel == "" {
		return nil, fmt.Errorf("%w: video", ErrNotConfigured)
	}
	if g.cfg.VideoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.VideoTimeout)
		defer cancel()
	}

	start := time.Now()
	url, err := g.runPrediction(ctx, req)
	if err = g.observe(ctx, "video", start, err); err != nil {
		return nil, err
	}
	return &MediaResult{URL: url, ContentType: "video/mp4"}, nil
}

func (g *Gateway) runPrediction(ctx context.Context, req VideoRequest) (string, error) {
	version := g.cfg.VideoModel
	if i := strings.LastIndex(version, ":"); i >= 0 {
		version = version[i+1:]
	}
	var p prediction
	err := g.replicate(ctx, http.MethodPost, "/v1/predictions", map[string]any{
		"version": version,
		"input":   map[string]any{"prompt": req.Prompt},
	}, &p)
	if err != nil {
		return "", err
	}

	backoff := retry.NewConstant(max(g.cfg.VideoPollDelay, time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		switch p.Status {
		case "succeeded", "failed", "canceled":
			return nil
		}
		if err := g.replicate(ctx, http.MethodGet, "/v1/predictions/"+p.ID, nil, &p); err != nil {
			return err
		}
		switch p.Status {
		case "succeeded", "failed", "canceled":
			return nil
		}
		return retry.RetryableError(errPredictionPending)
	})
	if err != nil {
		return "", err
	}
	if p.Status != "succeeded" {
		return "", fmt.Errorf("%w: prediction %s %s: %v", ErrVendor, p.ID, p.Status, p.Error)
	}
	return predictionURL(p.Output)
}

// predictionURL accepts either a single URL or a list of URLs as output.
func predictionURL(raw json.RawMessage) (string, error) {
	var one string
	if json.Unmarshal(raw, &one) == nil && one != "" {
		return one, nil
	}
	var many []string
	if json.Unmarshal(raw, &many) == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}
	return "", ErrEmptyResponse
}

func (g *Gateway) replicate(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode replicate request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(g.cfg.ReplicateBaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("build replicate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.ReplicateToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read replicate response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: replicate returned %d: %s", ErrVendor, resp.StatusCode, vendorMessage(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode replicate response: %v", ErrVendor, err)
	}
	return nil
}
