package llm

import (
	"fmt"
	"time"
)

// ProviderKind selects the backend behind the Client façade.
type ProviderKind string

const (
	ProviderAzure  ProviderKind = "azure"
	ProviderOllama ProviderKind = "ollama"
	ProviderMock   ProviderKind = "mock"
)

// Config selects and parameterizes the provider.
type Config struct {
	Provider ProviderKind
	// MockMode forces the mock provider regardless of Provider.
	MockMode bool

	Azure  AzureConfig
	Ollama OllamaConfig

	// MockDelay is the per-token delay of the mock provider.
	MockDelay time.Duration
}

// AzureConfig holds the remote-chat provider settings.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// OllamaConfig holds the local provider settings.
type OllamaConfig struct {
	URL   string
	Model string
}

// New builds the Client selected by cfg.
func New(cfg Config) (Client, error) {
	if cfg.MockMode {
		return NewMockClient(cfg.MockDelay), nil
	}
	switch cfg.Provider {
	case ProviderAzure:
		return NewAzureClient(cfg.Azure)
	case ProviderOllama:
		return NewOllamaClient(cfg.Ollama)
	case ProviderMock, "":
		return NewMockClient(cfg.MockDelay), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
