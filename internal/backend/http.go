package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/valyala/fasthttp"

	"yqhp/conductor/pkg/types"
	"yqhp/conductor/pkg/utils"
)

const defaultHTTPCallTimeout = 60 * time.Second

// chatRequest is the OpenAI-compatible completion request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPClient reaches OpenAI-compatible endpoints over raw HTTP. It covers
// self-hosted gateways that speak the chat/completions protocol but are not
// worth a dedicated SDK.
type HTTPClient struct {
	descriptors map[string]*types.ModelDescriptor
	apiKey      string
	client      *fasthttp.Client
}

// NewHTTPClient creates a client for the given catalog descriptors.
func NewHTTPClient(models []*types.ModelDescriptor, apiKey string) *HTTPClient {
	c := &HTTPClient{
		descriptors: make(map[string]*types.ModelDescriptor, len(models)),
		apiKey:      apiKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     256,
			ReadTimeout:         defaultHTTPCallTimeout,
			WriteTimeout:        defaultHTTPCallTimeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
	for _, d := range models {
		c.descriptors[d.ID] = d
	}
	return c
}

// Invoke posts a chat completion and extracts the reply text and token usage
// from the response body.
func (c *HTTPClient) Invoke(ctx context.Context, modelID string, prompt string, opts InvokeOptions) (*Reply, error) {
	desc, ok := c.descriptors[modelID]
	if !ok {
		return nil, types.NewPermanentBackendError(modelID, fmt.Sprintf("model not in catalog: %s", modelID), nil)
	}
	if desc.BaseURL == "" {
		return nil, types.NewPermanentBackendError(modelID, "model has no base_url configured", nil)
	}

	messages := make([]chatMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := utils.Marshal(chatRequest{
		Model:       desc.RemoteName(),
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, types.NewPermanentBackendError(modelID, "failed to encode request body", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(strings.TrimSuffix(desc.BaseURL, "/") + "/chat/completions")
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.SetBody(body)

	deadline := time.Now().Add(defaultHTTPCallTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	execErr := c.client.DoDeadline(req, resp, deadline)
	if execErr != nil {
		if execErr == fasthttp.ErrTimeout {
			return nil, types.NewTransientBackendError(modelID, "request timed out", execErr)
		}
		return nil, classifyInvokeError(modelID, execErr)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, classifyStatus(modelID, resp.StatusCode(), string(resp.Body()))
	}

	return c.parseReply(modelID, prompt, resp.Body())
}

// parseReply pulls the answer and token usage out of an OpenAI-style
// chat/completions response.
func (c *HTTPClient) parseReply(modelID string, prompt string, body []byte) (*Reply, error) {
	data, err := utils.FromJSONBytes[any](body)
	if err != nil {
		return nil, types.NewTransientBackendError(modelID, "failed to parse response body", err)
	}

	text, err := extractString(data, "$.choices[0].message.content")
	if err != nil {
		return nil, types.NewTransientBackendError(modelID, "response has no answer content", err)
	}

	tokens := 0
	if v, err := extractNumber(data, "$.usage.total_tokens"); err == nil {
		tokens = v
	}
	if tokens == 0 {
		tokens = estimateTokens(prompt) + estimateTokens(text)
	}

	return &Reply{Text: text, TokensUsed: tokens}, nil
}

// extractString evaluates a JSONPath expression and expects a string result.
func extractString(data any, expression string) (string, error) {
	path, err := jp.ParseString(expression)
	if err != nil {
		return "", fmt.Errorf("invalid JSONPath expression '%s': %w", expression, err)
	}
	results := path.Get(data)
	if len(results) == 0 {
		return "", fmt.Errorf("JSONPath '%s' returned no results", expression)
	}
	s, ok := results[0].(string)
	if !ok {
		return "", fmt.Errorf("JSONPath '%s' did not yield a string", expression)
	}
	return s, nil
}

// extractNumber evaluates a JSONPath expression and expects a numeric result.
func extractNumber(data any, expression string) (int, error) {
	path, err := jp.ParseString(expression)
	if err != nil {
		return 0, fmt.Errorf("invalid JSONPath expression '%s': %w", expression, err)
	}
	results := path.Get(data)
	if len(results) == 0 {
		return 0, fmt.Errorf("JSONPath '%s' returned no results", expression)
	}
	switch n := results[0].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("JSONPath '%s' did not yield a number", expression)
	}
}
