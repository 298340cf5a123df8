package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Provider failure taxonomy. Adapters map vendor SDK errors onto these
// sentinels (wrapped, so errors.Is matches) and the scheduler decides the
// user-visible behavior. A provider failure is never fatal to the process.
var (
	// ErrProviderTimeout indicates the completion call exceeded its deadline.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderRejected indicates the provider refused the request
	// (authentication, invalid model, malformed input).
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrProviderUnavailable indicates the provider could not be reached or
	// answered with a server-side failure.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Role values for chat messages in a Request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one attributed line of a prepared prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request captures the normalized model input produced by the context
// assembler: a system instruction segment plus an attributed transcript.
type Request struct {
	Instructions string        `json:"instructions"`
	Messages     []ChatMessage `json:"messages"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int64         `json:"max_tokens"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion produced by a model.
type Response struct {
	Text  string      `json:"text"`
	Model string      `json:"model"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive text generation.
type Model interface {
	// Complete performs one completion call. Blocking; honours ctx deadline.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses can be registered per prompt substring; unmatched prompts get a
// deterministic echo. Safe for concurrent use.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	errs      []error
	calls     []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion returned when the last message
// contains the given substring.
func (m *MockModel) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[match] = response
}

// FailWith queues an error returned by the next Complete call.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Calls returns a copy of all requests seen so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderTimeout, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	for match, response := range m.responses {
		if strings.Contains(last, match) {
			return &Response{Text: response, Model: m.info.Name}, nil
		}
	}
	return &Response{Text: fmt.Sprintf("Mock response to: %s", last), Model: m.info.Name}, nil
}

// Info returns metadata describing this mock model.
func (m *MockModel) Info() Info { return m.info }
