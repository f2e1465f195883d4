// Package genai classifies free-form customer messages with the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/dialog"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// Errors returned by the client.
var (
	ErrMissingAPIKey     = errors.New("OpenAI API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// DefaultModel is used unless WithModel overrides it.
const DefaultModel = openai.ChatModelGPT4oMini

// classifyPrompt asks for exactly one label so the answer can be parsed verbatim.
const classifyPrompt = `You route messages sent to a flower shop chat bot. The customer writes in Russian.
Answer with exactly one lowercase word:
greeting - the customer says hello or starts a conversation
help - the customer asks what the bot can do or how it works
order - the customer wants to buy or preorder flowers or see their dates
unknown - anything else`

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK client to chatService.
type completionsAdapter struct {
	client openai.Client
}

func (a *completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the Client.
type Opts struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// Option defines a configuration option for the Client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat      chatService
	model     openai.ChatModel
	maxTokens int64
}

var _ dialog.IntentClassifier = (*Client)(nil)

// NewClient creates a Client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: string(DefaultModel), MaxTokens: 5}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: &completionsAdapter{client: cli}, model: openai.ChatModel(cfg.Model), maxTokens: cfg.MaxTokens}, nil
}

// Complete returns the model's answer to a system and user prompt.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify maps text onto one of the dialog intents.
func (c *Client) Classify(ctx context.Context, text string) (models.Intent, error) {
	answer, err := c.Complete(ctx, classifyPrompt, text)
	if err != nil {
		return models.IntentUnknown, err
	}
	word := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!\"'"))
	if i := strings.IndexAny(word, " \n\t"); i >= 0 {
		word = word[:i]
	}
	intent := models.ParseIntent(word)
	slog.Debug("Client.Classify", "answer", answer, "intent", intent)
	return intent, nil
}
