package ai

import "errors"

var (
	ErrNotConfigured       = errors.New("ai: tool is not configured")
	ErrVendor              = errors.New("ai: vendor request failed")
	ErrEmptyResponse       = errors.New("ai: vendor returned no content")
	ErrModelLoading        = errors.New("ai: model is loading")
	ErrTimeout             = errors.New("ai: vendor timed out")
	ErrUnsupportedLanguage = errors.New("ai: unsupported language")
)
