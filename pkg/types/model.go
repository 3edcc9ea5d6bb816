package types

// ModelProvider identifies the transport used to reach a model backend.
type ModelProvider string

const (
	// ProviderOpenAI talks to the OpenAI API.
	ProviderOpenAI ModelProvider = "openai"
	// ProviderDeepSeek talks to the DeepSeek API.
	ProviderDeepSeek ModelProvider = "deepseek"
	// ProviderAzure talks to an Azure OpenAI deployment.
	ProviderAzure ModelProvider = "azure"
	// ProviderHTTP talks to any OpenAI-compatible chat endpoint.
	ProviderHTTP ModelProvider = "http"
	// ProviderSim is the in-process simulated backend.
	ProviderSim ModelProvider = "sim"
)

// ModelDescriptor describes one backend model in the catalog.
// Descriptors are read-only reference data for the process lifetime.
type ModelDescriptor struct {
	ID       string        `yaml:"id" json:"id"`
	Provider ModelProvider `yaml:"provider" json:"provider"`

	// Model is the provider-side model name; defaults to ID when empty.
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	Capabilities     []string `yaml:"capabilities" json:"capabilities"`
	CostPerToken     float64  `yaml:"cost_per_token" json:"cost_per_token"`
	PerformanceScore float64  `yaml:"performance_score" json:"performance_score"`
	MaxContext       int      `yaml:"max_context" json:"max_context"`

	// ConcurrencyLimit caps in-flight calls to this model; 0 means unlimited.
	ConcurrencyLimit int `yaml:"concurrency_limit" json:"concurrency_limit"`
}

// RemoteName returns the provider-side model identifier.
func (d *ModelDescriptor) RemoteName() string {
	if d.Model != "" {
		return d.Model
	}
	return d.ID
}
