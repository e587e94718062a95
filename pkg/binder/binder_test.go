package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/aidash/pkg/binder"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
	Tokens int    `json:"tokens"`
}

func jsonRequest(body, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		var req promptRequest
		err := binder.JSON()(jsonRequest(`{"prompt":"hi","tokens":5}`, "application/json; charset=utf-8"), &req)
		require.NoError(t, err)
		assert.Equal(t, promptRequest{Prompt: "hi", Tokens: 5}, req)
	})

	tests := []struct {
		name        string
		body        string
		contentType string
		want        error
	}{
		{"missing content type", `{}`, "", binder.ErrMissingContentType},
		{"wrong content type", `{}`, "text/plain", binder.ErrUnsupportedMediaType},
		{"empty body", ``, "application/json", binder.ErrFailedToParseJSON},
		{"malformed", `{"prompt":`, "application/json", binder.ErrFailedToParseJSON},
		{"unknown field", `{"prompt":"hi","extra":1}`, "application/json", binder.ErrFailedToParseJSON},
		{"wrong type", `{"tokens":"five"}`, "application/json", binder.ErrFailedToParseJSON},
		{"trailing data", `{"prompt":"a"}{"prompt":"b"}`, "application/json", binder.ErrFailedToParseJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var req promptRequest
			err := binder.JSON()(jsonRequest(tt.body, tt.contentType), &req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		var req promptRequest
		body := `{"prompt":"` + strings.Repeat("a", 64) + `"}`
		err := binder.JSONWithLimit(16)(jsonRequest(body, "application/json"), &req)
		assert.ErrorIs(t, err, binder.ErrRequestTooLarge)
	})
}

func TestOptionalJSON(t *testing.T) {
	t.Parallel()

	t.Run("no body", func(t *testing.T) {
		t.Parallel()
		req := promptRequest{Prompt: "kept"}
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		require.NoError(t, binder.OptionalJSON()(r, &req))
		assert.Equal(t, "kept", req.Prompt)
	})

	t.Run("body is still validated", func(t *testing.T) {
		t.Parallel()
		var req promptRequest
		err := binder.OptionalJSON()(jsonRequest(`{"prompt":"hi"}`, "text/plain"), &req)
		assert.ErrorIs(t, err, binder.ErrUnsupportedMediaType)
	})

	t.Run("body is decoded", func(t *testing.T) {
		t.Parallel()
		var req promptRequest
		require.NoError(t, binder.OptionalJSON()(jsonRequest(`{"prompt":"hi"}`, "application/json"), &req))
		assert.Equal(t, "hi", req.Prompt)
	})
}

func TestPath(t *testing.T) {
	t.Parallel()

	type jobRequest struct {
		ID      string  `path:"id"`
		Epoch   int     `path:"epoch"`
		Page    *uint   `path:"page"`
		Skipped string  `path:"-"`
		Body    string  `json:"body"`
		Ratio   float64 `path:"ratio"`
	}

	params := map[string]string{"id": "abc", "epoch": "3", "page": "2", "body": "nope"}
	extractor := func(_ *http.Request, name string) string { return params[name] }
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	var got jobRequest
	require.NoError(t, binder.Path(extractor)(req, &got))
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, 3, got.Epoch)
	require.NotNil(t, got.Page)
	assert.Equal(t, uint(2), *got.Page)
	assert.Empty(t, got.Skipped)
	assert.Empty(t, got.Body)

	t.Run("invalid number", func(t *testing.T) {
		t.Parallel()
		bad := func(_ *http.Request, name string) string {
			if name == "epoch" {
				return "x"
			}
			return ""
		}
		var got jobRequest
		assert.ErrorIs(t, binder.Path(bad)(req, &got), binder.ErrFailedToParsePath)
	})

	t.Run("unsupported type", func(t *testing.T) {
		t.Parallel()
		ratio := func(_ *http.Request, name string) string {
			if name == "ratio" {
				return "0.5"
			}
			return ""
		}
		var got jobRequest
		assert.ErrorIs(t, binder.Path(ratio)(req, &got), binder.ErrFailedToParsePath)
	})

	t.Run("non pointer", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, binder.Path(extractor)(req, jobRequest{}), binder.ErrFailedToParsePath)
	})

	t.Run("nil extractor", func(t *testing.T) {
		t.Parallel()
		var got jobRequest
		assert.ErrorIs(t, binder.Path(nil)(req, &got), binder.ErrFailedToParsePath)
	})
}
