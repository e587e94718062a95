package ai_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/aidash/internal/ai"
)

// vendor fakes OpenAI, the music inference endpoint and Replicate.
type vendor struct {
	srv          *httptest.Server
	lastChat     atomic.Value
	musicLoading int32
	musicCalls   atomic.Int32
	polls        atomic.Int32
}

func newVendor(t *testing.T) *vendor {
	t.Helper()
	v := &vendor{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v.lastChat.Store(req.Messages[0].Content)
		writeJSON(w, map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "reply to " + req.Messages[len(req.Messages)-1].Content},
				"finish_reason": "stop",
			}},
		})
	})
	mux.HandleFunc("POST /v1/images/generations", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"created": 1, "data": []map[string]string{{"url": "https://img.test/1.png"}}})
	})
	mux.HandleFunc("POST /music", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if v.musicCalls.Add(1) <= atomic.LoadInt32(&v.musicLoading) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20}`))
			return
		}
		w.Header().Set("Content-Type", "audio/flac")
		_, _ = w.Write([]byte("fLaC-audio"))
	})
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["version"] != "abc123" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"invalid version"}`))
			return
		}
		writeJSON(w, map[string]any{"id": "pred-1", "status": "starting"})
	})
	mux.HandleFunc("GET /v1/predictions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if v.polls.Add(1) < 2 {
			writeJSON(w, map[string]any{"id": r.PathValue("id"), "status": "processing"})
			return
		}
		writeJSON(w, map[string]any{"id": r.PathValue("id"), "status": "succeeded", "output": []string{"https://replicate.test/out.mp4"}})
	})
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (v *vendor) config() ai.Config {
	return ai.Config{
		OpenAIKey:        "sk-test",
		OpenAIBaseURL:    v.srv.URL + "/v1",
		ChatModel:        "gpt-4o-mini",
		CodeModel:        "gpt-4o",
		ImageModel:       "dall-e-3",
		MaxTokens:        256,
		HuggingFaceToken: "hf-token",
		MusicURL:         v.srv.URL + "/music",
		MusicTimeout:     5 * time.Second,
		MusicRetries:     3,
		MusicRetryDelay:  time.Millisecond,
		ReplicateToken:   "r8-token",
		ReplicateBaseURL: v.srv.URL,
		VideoModel:       "owner/model:abc123",
		VideoTimeout:     5 * time.Second,
		VideoPollDelay:   time.Millisecond,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type callCounter struct {
	calls atomic.Int32
	errs  atomic.Int32
}

func (c *callCounter) VendorCall(_ string, err error, _ time.Duration) {
	c.calls.Add(1)
	if err != nil {
		c.errs.Add(1)
	}
}

func TestGateway_TextTools(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := newVendor(t)
	obs := &callCounter{}
	g := ai.New(v.config(), ai.WithLogger(quiet()), ai.WithObserver(obs))

	res, err := g.Chat(ctx, ai.ChatRequest{Messages: []ai.Message{{Role: "user", Content: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, "reply to hello", res.Content)
	assert.Equal(t, "gpt-4o-mini", res.Model)

	res, err = g.Code(ctx, ai.CodeRequest{Prompt: "reverse a list", Language: "Go"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Contains(t, v.lastChat.Load(), "Use Go.")

	_, err = g.Content(ctx, ai.ContentRequest{Topic: "solar panels", Kind: "blog", Words: 300})
	require.NoError(t, err)

	_, err = g.Translate(ctx, ai.TranslateRequest{Text: "hola", Source: "es", Target: "de"})
	require.NoError(t, err)
	assert.Contains(t, v.lastChat.Load(), "Spanish text into German")

	_, err = g.Legal(ctx, ai.LegalRequest{DocumentType: "nda", Parties: []string{"Acme", "Bob"}})
	require.NoError(t, err)

	assert.EqualValues(t, 5, obs.calls.Load())
	assert.Zero(t, obs.errs.Load())
}

func TestGateway_TranslateRejectsBadLanguage(t *testing.T) {
	t.Parallel()

	g := ai.New(newVendor(t).config(), ai.WithLogger(quiet()))
	_, err := g.Translate(context.Background(), ai.TranslateRequest{Text: "hi", Target: "not a tag!"})
	assert.ErrorIs(t, err, ai.ErrUnsupportedLanguage)
}

func TestGateway_Image(t *testing.T) {
	t.Parallel()

	g := ai.New(newVendor(t).config(), ai.WithLogger(quiet()))
	res, err := g.Image(context.Background(), ai.ImageRequest{Prompt: "a red fox"})
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/1.png", res.URL)
}

func TestGateway_NotConfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := ai.New(ai.Config{}, ai.WithLogger(quiet()))

	_, err := g.Chat(ctx, ai.ChatRequest{Messages: []ai.Message{{Role: "user", Content: "x"}}})
	assert.ErrorIs(t, err, ai.ErrNotConfigured)
	_, err = g.Music(ctx, ai.MusicRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrNotConfigured)
	_, err = g.Video(ctx, ai.VideoRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrNotConfigured)
}

type mockMedia struct {
	mock.Mock
}

func (m *mockMedia) Put(ctx context.Context, kind, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, kind, contentType, data)
	return args.String(0), args.Error(1)
}

func TestGateway_Music(t *testing.T) {
	t.Parallel()

	t.Run("retries while loading then stores audio", func(t *testing.T) {
		t.Parallel()
		v := newVendor(t)
		atomic.StoreInt32(&v.musicLoading, 2)
		store := &mockMedia{}
		store.On("Put", mock.Anything, "music", "audio/flac", []byte("fLaC-audio")).
			Return("https://s3.test/signed", nil).Once()

		g := ai.New(v.config(), ai.WithLogger(quiet()), ai.WithMediaStore(store))
		res, err := g.Music(context.Background(), ai.MusicRequest{Prompt: "lofi beat"})
		require.NoError(t, err)
		assert.Equal(t, "https://s3.test/signed", res.URL)
		assert.EqualValues(t, 3, v.musicCalls.Load())
		store.AssertExpectations(t)
	})

	t.Run("gives up after bounded retries", func(t *testing.T) {
		t.Parallel()
		v := newVendor(t)
		atomic.StoreInt32(&v.musicLoading, 100)
		g := ai.New(v.config(), ai.WithLogger(quiet()))

		_, err := g.Music(context.Background(), ai.MusicRequest{Prompt: "lofi beat"})
		assert.ErrorIs(t, err, ai.ErrModelLoading)
		assert.ErrorIs(t, err, ai.ErrVendor)
		assert.EqualValues(t, 4, v.musicCalls.Load())
	})

	t.Run("inline audio without media store", func(t *testing.T) {
		t.Parallel()
		g := ai.New(newVendor(t).config(), ai.WithLogger(quiet()))
		res, err := g.Music(context.Background(), ai.MusicRequest{Prompt: "lofi beat"})
		require.NoError(t, err)
		assert.Equal(t, "data:audio/flac;base64,ZkxhQy1hdWRpbw==", res.URL)
	})
}

func TestGateway_Video(t *testing.T) {
	t.Parallel()

	v := newVendor(t)
	g := ai.New(v.config(), ai.WithLogger(quiet()))
	res, err := g.Video(context.Background(), ai.VideoRequest{Prompt: "a drone shot of a coast"})
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.test/out.mp4", res.URL)
	assert.EqualValues(t, 2, v.polls.Load())

	cfg := v.config()
	cfg.VideoModel = "owner/model:wrong"
	_, err = ai.New(cfg, ai.WithLogger(quiet())).Video(context.Background(), ai.VideoRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrVendor)
}
