// Package backend defines the client contract for invoking model backends
// and the adapters that implement it. The engine core depends only on the
// Client interface, never on transport details.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"yqhp/conductor/pkg/types"
)

// InvokeOptions carries per-call tuning for a backend invocation.
type InvokeOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  *float32
}

// Reply is the successful result of one backend invocation.
type Reply struct {
	Text       string
	TokensUsed int
}

// Client invokes a model backend by catalog id.
type Client interface {
	// Invoke sends prompt to the model and returns its reply. Errors are
	// typed: transient failures are retryable, permanent ones are not.
	Invoke(ctx context.Context, modelID string, prompt string, opts InvokeOptions) (*Reply, error)
}

// Mux routes invocations to provider-specific clients.
type Mux struct {
	descriptors map[string]*types.ModelDescriptor
	clients     map[types.ModelProvider]Client
	mu          sync.RWMutex
}

// NewMux creates a provider mux over the given descriptors.
func NewMux(models []*types.ModelDescriptor) *Mux {
	m := &Mux{
		descriptors: make(map[string]*types.ModelDescriptor, len(models)),
		clients:     make(map[types.ModelProvider]Client),
	}
	for _, d := range models {
		m.descriptors[d.ID] = d
	}
	return m
}

// Register installs the client for a provider.
func (m *Mux) Register(provider types.ModelProvider, client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[provider] = client
}

// Invoke routes to the client registered for the model's provider.
func (m *Mux) Invoke(ctx context.Context, modelID string, prompt string, opts InvokeOptions) (*Reply, error) {
	m.mu.RLock()
	desc, ok := m.descriptors[modelID]
	var client Client
	if ok {
		client = m.clients[desc.Provider]
	}
	m.mu.RUnlock()

	if !ok {
		return nil, types.NewPermanentBackendError(modelID, fmt.Sprintf("model not in catalog: %s", modelID), nil)
	}
	if client == nil {
		return nil, types.NewPermanentBackendError(modelID, fmt.Sprintf("no client for provider: %s", desc.Provider), nil)
	}
	return client.Invoke(ctx, modelID, prompt, opts)
}

// classifyStatus maps an HTTP response status onto the error taxonomy.
// 429 and 5xx are retryable, other 4xx are caller mistakes.
func classifyStatus(modelID string, status int, body string) error {
	msg := fmt.Sprintf("backend returned status %d", status)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, truncate(body, 200))
	}
	if status == 429 || status >= 500 {
		return types.NewTransientBackendError(modelID, msg, nil)
	}
	return types.NewPermanentBackendError(modelID, msg, nil)
}

// classifyInvokeError maps a transport-level error onto the taxonomy.
// Auth and request-shape failures are permanent, the rest retryable.
func classifyInvokeError(modelID string, err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"api key", "unauthorized", "forbidden", "invalid request",
		"status code: 400", "status code: 401", "status code: 403", "status code: 404",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return types.NewPermanentBackendError(modelID, "backend rejected request", err)
		}
	}
	return types.NewTransientBackendError(modelID, "backend call failed", err)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
