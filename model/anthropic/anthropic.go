// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/chatmesh/model"
)

// Options configures the Anthropic model adapter (model id, max tokens, API
// key, base URL). Extend via functional options to preserve stability.
type Options struct {
	Model     string
	MaxTokens int64
	APIKey    string
	BaseURL   string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:     string(anthropic.ModelClaude3_5Sonnet20241022),
		MaxTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:     string(anthropic.ModelClaude3_5Sonnet20241022),
		MaxTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Complete performs one non-streaming message completion.
func (m *Model) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.opts.Model),
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.maxTokens(req),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	out := &model.Response{
		Text:  strings.TrimSpace(text.String()),
		Model: m.opts.Model,
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		out.Usage = &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}
	return out, nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "anthropic"}
}

func (m *Model) maxTokens(req model.Request) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return m.opts.MaxTokens
}

// buildMessages converts the attributed transcript to Anthropic messages.
// The Messages API requires the sequence to start with a user turn; a
// transcript opening on the target's own line (repeated speak prompts on an
// otherwise quiet channel) gets a neutral user turn prepended. Consecutive
// same-role lines are merged to keep user/assistant alternation.
func buildMessages(msgs []model.ChatMessage) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var lastRole string
	var pending []string

	if len(msgs) > 0 && msgs[0].Role == model.RoleAssistant {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("(the conversation continues)")))
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		text := strings.Join(pending, "\n")
		if lastRole == model.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
		pending = pending[:0]
	}

	for _, msg := range msgs {
		role := msg.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		pending = append(pending, msg.Content)
	}
	flush()
	return messages
}

// mapError translates SDK errors into the shared provider taxonomy.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrProviderTimeout, err)
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode >= 400 && apierr.StatusCode < 500 && apierr.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", model.ErrProviderRejected, err)
		}
		return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
}
