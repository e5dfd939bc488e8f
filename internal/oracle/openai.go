package oracle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"threatbench/internal/logger"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	APIKeyEnv   string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAI is an Oracle backed by the chat completions API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates a client. The key comes from cfg.APIKey or, failing that,
// the environment variable named by cfg.APIKeyEnv.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" && cfg.APIKeyEnv != "" {
		key = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}
	if key == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("oracle api key not set (env %s)", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("oracle model is required")
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger.Infof("Oracle client initialized (model=%s)", cfg.Model)
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

// Complete sends one chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chat := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
	}
	if o.cfg.MaxTokens > 0 {
		chat.MaxCompletionTokens = o.cfg.MaxTokens
	}
	if req.Seed != 0 {
		seed := req.Seed
		chat.Seed = &seed
	}

	resp, err := o.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	logger.Debugf("Oracle response finish_reason=%s tokens=%d", resp.Choices[0].FinishReason, resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}
