package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dmitrymomot/aidash/pkg/logger"
)

// MediaStore persists generated media and returns a link to it.
type MediaStore interface {
	Put(ctx context.Context, kind, contentType string, data []byte) (string, error)
}

// Observer receives vendor call timings.
type Observer interface {
	VendorCall(tool string, err error, took time.Duration)
}

// Tools is the set of AI operations the API exposes.
type Tools interface {
	Chat(ctx context.Context, req ChatRequest) (*TextResult, error)
	Code(ctx context.Context, req CodeRequest) (*TextResult, error)
	Content(ctx context.Context, req ContentRequest) (*TextResult, error)
	Translate(ctx context.Context, req TranslateRequest) (*TextResult, error)
	Legal(ctx context.Context, req LegalRequest) (*TextResult, error)
	Image(ctx context.Context, req ImageRequest) (*MediaResult, error)
	Video(ctx context.Context, req VideoRequest) (*MediaResult, error)
	Music(ctx context.Context, req MusicRequest) (*MediaResult, error)
}

// Gateway implements Tools.
type Gateway struct {
	cfg      Config
	openai   *openai.Client
	http     *http.Client
	media    MediaStore
	observer Observer
	log      *slog.Logger
}

type Option func(*Gateway)

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func WithMediaStore(m MediaStore) Option {
	return func(g *Gateway) { g.media = m }
}

func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.http = c
		}
	}
}

func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:  cfg,
		http: &http.Client{Timeout: 2 * time.Minute},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.OpenAIKey != "" {
		oc := openai.DefaultConfig(cfg.OpenAIKey)
		if cfg.OpenAIBaseURL != "" {
			oc.BaseURL = strings.TrimSuffix(cfg.OpenAIBaseURL, "/")
		}
		oc.HTTPClient = g.http
		g.openai = openai.NewClientWithConfig(oc)
	}
	g.log = g.log.With(logger.Component("ai"))
	return g
}

// observe records a vendor call and wraps non-sentinel errors in ErrVendor.
func (g *Gateway) observe(ctx context.Context, tool string, start time.Time, err error) error {
	if g.observer != nil {
		g.observer.VendorCall(tool, err, time.Since(start))
	}
	if err == nil {
		return nil
	}
	g.log.ErrorContext(ctx, "vendor call failed",
		slog.String("tool", tool),
		logger.Duration(time.Since(start)),
		logger.Error(err),
	)
	switch {
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrVendor),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrUnsupportedLanguage),
		errors.Is(err, ErrEmptyResponse):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrVendor, err)
}

var _ Tools = (*Gateway)(nil)
