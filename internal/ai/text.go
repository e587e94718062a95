package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*TextResult, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, system("You are a helpful assistant. Answer clearly and concisely."))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return g.complete(ctx, "chat", g.cfg.ChatModel, msgs)
}

func (g *Gateway) Code(ctx context.Context, req CodeRequest) (*TextResult, error) {
	sys := "You are a senior software engineer. Reply with working code in a fenced block followed by a short explanation."
	if req.Language != "" {
		sys += " Use " + req.Language + "."
	}
	return g.complete(ctx, "code", g.cfg.CodeModel, []openai.ChatCompletionMessage{system(sys), user(req.Prompt)})
}

func (g *Gateway) Content(ctx context.Context, req ContentRequest) (*TextResult, error) {
	tone := req.Tone
	if tone == "" {
		tone = "professional"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s in a %s tone about: %s.", contentKinds[req.Kind], tone, req.Topic)
	if req.Words > 0 {
		fmt.Fprintf(&b, " Aim for about %d words.", req.Words)
	}
	return g.complete(ctx, "content", g.cfg.ChatModel, []openai.ChatCompletionMessage{
		system("You are an experienced copywriter."),
		user(b.String()),
	})
}

var contentKinds = map[string]string{
	"blog":   "blog post",
	"email":  "marketing email",
	"social": "social media post",
	"ad":     "short advertisement",
}

func (g *Gateway) Translate(ctx context.Context, req TranslateRequest) (*TextResult, error) {
	target, err := languageName(req.Target)
	if err != nil {
		return nil, err
	}
	prompt := "Translate the following text into " + target + "."
	if req.Source != "" {
		source, err := languageName(req.Source)
		if err != nil {
			return nil, err
		}
		prompt = "Translate the following " + source + " text into " + target + "."
	}
	return g.complete(ctx, "translate", g.cfg.ChatModel, []openai.ChatCompletionMessage{
		system(prompt + " Reply with the translation only."),
		user(req.Text),
	})
}

// languageName resolves a BCP 47 tag to its English display name.
func languageName(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}
	name := display.English.Tags().Name(t)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}
	return name, nil
}

func (g *Gateway) Legal(ctx context.Context, req LegalRequest) (*TextResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a %s.", strings.ReplaceAll(req.DocumentType, "_", " "))
	if len(req.Parties) > 0 {
		fmt.Fprintf(&b, " Parties: %s.", strings.Join(req.Parties, "; "))
	}
	if req.Jurisdiction != "" {
		fmt.Fprintf(&b, " Governing law: %s.", req.Jurisdiction)
	}
	if req.Details != "" {
		fmt.Fprintf(&b, " Additional terms: %s", req.Details)
	}
	return g.complete(ctx, "legal", g.cfg.ChatModel, []openai.ChatCompletionMessage{
		system("You draft clear legal document templates. Use numbered sections and mark placeholders in [BRACKETS]. End with a note that the draft is not legal advice."),
		user(b.String()),
	})
}

func (g *Gateway) complete(ctx context.Context, tool, model string, msgs []openai.ChatCompletionMessage) (*TextResult, error) {
	if g.openai == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, tool)
	}
	start := time.Now()
	resp, err := g.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: g.cfg.MaxTokens,
	})
	if err == nil && (len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "") {
		err = ErrEmptyResponse
	}
	if err = g.observe(ctx, tool, start, err); err != nil {
		return nil, err
	}
	return &TextResult{Content: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}

func system(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: content}
}

func user(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}
