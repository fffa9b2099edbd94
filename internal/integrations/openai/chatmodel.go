// Package openai adapts an OpenAI-compatible Chat Completions endpoint to the
// eino chat model interface so it can sit in the same chain as Ark.
package openai

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

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Config holds the knobs sent on every completion.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// ChatModel implements model.BaseChatModel over plain HTTP.
type ChatModel struct {
	apiKey     string
	baseURL    string
	model      string
	temp       *float32
	maxTokens  *int
	httpClient *http.Client
}

var _ model.BaseChatModel = (*ChatModel)(nil)

type Option func(*ChatModel)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *ChatModel) {
		m.httpClient = httpClient
	}
}

func NewChatModel(cfg Config, opts ...Option) (*ChatModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	m := &ChatModel{
		apiKey:     apiKey,
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		model:      strings.TrimSpace(cfg.Model),
		temp:       cfg.Temperature,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if m.model == "" {
		m.model = DefaultModel
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Generate sends the whole conversation and returns the first choice.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Model:       &m.model,
		Temperature: m.temp,
		MaxTokens:   m.maxTokens,
	}, opts...)

	reqBody := chatRequest{
		Model:       m.model,
		Messages:    make([]chatMessage, 0, len(input)),
		Temperature: options.Temperature,
		TopP:        options.TopP,
		MaxTokens:   options.MaxTokens,
		Stop:        options.Stop,
	}
	if options.Model != nil && *options.Model != "" {
		reqBody.Model = *options.Model
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(m.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	raw, err := m.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}

	choice := payload.Choices[0]
	out := schema.AssistantMessage(choice.Message.Content, nil)
	out.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if payload.Usage != nil {
		out.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream is not used by the bot; it yields the full completion as one chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
