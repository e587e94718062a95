package ai

type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=8000"`
}

type ChatRequest struct {
	Messages []Message `json:"messages" validate:"required,min=1,max=50,dive"`
}

type CodeRequest struct {
	Prompt   string `json:"prompt" validate:"required,max=8000"`
	Language string `json:"language" validate:"omitempty,max=32"`
}

type ContentRequest struct {
	Topic string `json:"topic" validate:"required,max=2000"`
	Kind  string `json:"kind" validate:"required,oneof=blog email social ad"`
	Tone  string `json:"tone" validate:"omitempty,oneof=professional casual friendly persuasive"`
	Words int    `json:"words" validate:"omitempty,min=50,max=3000"`
}

type TranslateRequest struct {
	Text   string `json:"text" validate:"required,max=10000"`
	Source string `json:"source" validate:"omitempty,bcp47_language_tag"`
	Target string `json:"target" validate:"required,bcp47_language_tag"`
}

type LegalRequest struct {
	DocumentType string   `json:"document_type" validate:"required,oneof=nda privacy_policy terms_of_service employment_contract service_agreement"`
	Parties      []string `json:"parties" validate:"omitempty,max=10,dive,required,max=200"`
	Jurisdiction string   `json:"jurisdiction" validate:"omitempty,max=100"`
	Details      string   `json:"details" validate:"omitempty,max=4000"`
}

type ImageRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	Size   string `json:"size" validate:"omitempty,oneof=1024x1024 1792x1024 1024x1792"`
}

type VideoRequest struct {
	Prompt string `json:"prompt" validate:"required,max=1000"`
}

type MusicRequest struct {
	Prompt   string `json:"prompt" validate:"required,max=1000"`
	Duration int    `json:"duration" validate:"omitempty,min=1,max=30"`
}

// TextResult is returned by the text tools.
type TextResult struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// MediaResult points at generated media.
type MediaResult struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}
