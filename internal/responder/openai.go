package responder

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const systemPromptFormat = `You are playing a real person named %q in a
mobile chat app. Stay in that persona: if the name looks like a utility
account, reply briefly and functionally; if it is a person, be warm and
conversational. Keep replies short, like real chat messages. Reply in the
language the user writes in.`

// LLM is the Gateway backed by an OpenAI-compatible chat-completion API.
type LLM struct {
	client *openai.LLM
}

// Options configures the LLM gateway.
type Options struct {
	Model   string
	Token   string
	BaseURL string // optional override for OpenAI-compatible endpoints
}

// NewLLM builds the gateway client. It fails fast when no token is
// configured so the daemon can fall back to a disabled responder.
func NewLLM(opts Options) (*LLM, error) {
	if opts.Token == "" {
		return nil, errors.New("responder: no API token configured")
	}
	clientOpts := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.Token),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("responder: init client: %w", err)
	}
	return &LLM{client: client}, nil
}

// Reply implements Gateway.
func (l *LLM) Reply(ctx context.Context, persona string, history []Turn, message string) (string, error) {
	content := make([]llms.MessageContent, 0, len(history)+2)
	content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, fmt.Sprintf(systemPromptFormat, persona)))
	for _, turn := range history {
		role := schema.ChatMessageTypeAI
		if turn.Role == "user" {
			role = schema.ChatMessageTypeHuman
		}
		content = append(content, llms.TextParts(role, turn.Text))
	}
	content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, message))

	resp, err := l.client.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("responder: generate: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", errors.New("responder: empty completion")
	}
	return resp.Choices[0].Content, nil
}
