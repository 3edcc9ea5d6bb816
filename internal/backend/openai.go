package backend

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"yqhp/conductor/pkg/types"
)

const defaultAzureAPIVersion = "2024-06-01"

// OpenAIConfig configures the eino-backed client.
type OpenAIConfig struct {
	APIKey     string
	APIVersion string // Azure deployments only
}

// OpenAIClient reaches OpenAI-protocol providers through eino chat models.
type OpenAIClient struct {
	descriptors map[string]*types.ModelDescriptor
	config      OpenAIConfig
}

// NewOpenAIClient creates a client for the given catalog descriptors.
func NewOpenAIClient(models []*types.ModelDescriptor, config OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		descriptors: make(map[string]*types.ModelDescriptor, len(models)),
		config:      config,
	}
	for _, d := range models {
		c.descriptors[d.ID] = d
	}
	return c
}

// Invoke sends prompt to the provider and returns the reply text and the
// token usage the provider reported.
func (c *OpenAIClient) Invoke(ctx context.Context, modelID string, prompt string, opts InvokeOptions) (*Reply, error) {
	desc, ok := c.descriptors[modelID]
	if !ok {
		return nil, types.NewPermanentBackendError(modelID, fmt.Sprintf("model not in catalog: %s", modelID), nil)
	}

	chatModel, err := c.createChatModel(ctx, desc, opts)
	if err != nil {
		return nil, types.NewPermanentBackendError(modelID, "failed to build chat model", err)
	}

	var messages []*schema.Message
	if opts.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, schema.UserMessage(prompt))

	resp, err := chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, classifyInvokeError(modelID, err)
	}

	tokens := 0
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		tokens = resp.ResponseMeta.Usage.TotalTokens
	}
	if tokens == 0 {
		tokens = estimateTokens(prompt) + estimateTokens(resp.Content)
	}

	return &Reply{Text: resp.Content, TokensUsed: tokens}, nil
}

// createChatModel 创建 LLM 聊天模型
func (c *OpenAIClient) createChatModel(ctx context.Context, desc *types.ModelDescriptor, opts InvokeOptions) (*openai.ChatModel, error) {
	chatConfig := &openai.ChatModelConfig{
		Model:  desc.RemoteName(),
		APIKey: c.config.APIKey,
	}

	baseURL := desc.BaseURL
	switch desc.Provider {
	case types.ProviderOpenAI:
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
	case types.ProviderDeepSeek:
		if baseURL == "" {
			baseURL = "https://api.deepseek.com/v1"
		}
	case types.ProviderAzure:
		chatConfig.ByAzure = true
		if c.config.APIVersion == "" {
			chatConfig.APIVersion = defaultAzureAPIVersion
		} else {
			chatConfig.APIVersion = c.config.APIVersion
		}
	}
	if baseURL != "" {
		chatConfig.BaseURL = baseURL
	}

	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		chatConfig.MaxTokens = &maxTokens
	}
	if opts.Temperature != nil {
		chatConfig.Temperature = opts.Temperature
	}

	return openai.NewChatModel(ctx, chatConfig)
}
