// Package config loads service configuration from the environment.
// A .env file, when present, is loaded by the entrypoint before Load runs;
// every knob has a default that yields a working local setup (mock LLM,
// in-memory persistence, local-only aborts).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/chatstore"
	"github.com/parleyhq/parley/pkg/llm"
)

// Database providers.
const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabaseCosmosDB = "cosmosdb"
)

// Stream-store providers for the abort fabric.
const (
	StreamStoreMemory = "memory"
	StreamStoreRedis  = "redis"
)

// AppConfig binds the HTTP listener.
type AppConfig struct {
	Host     string
	Port     int
	BasePath string
}

// Addr returns the listen address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and configures the chat repository backend.
type DatabaseConfig struct {
	Provider   string
	SQLitePath string
	Cosmos     chatstore.CosmosConfig
}

// StreamStoreConfig selects the cross-instance abort transport.
type StreamStoreConfig struct {
	Provider string
	RedisURL string
}

// Config is the full service configuration.
type Config struct {
	App         AppConfig
	LLM         llm.Config
	Database    DatabaseConfig
	StreamStore StreamStoreConfig
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Host:     getEnv("APP_HOST", "0.0.0.0"),
			Port:     getEnvInt("APP_PORT", 8080),
			BasePath: normalizeBasePath(getEnv("APP_BASE_PATH", "/api/v1")),
		},
		LLM: llm.Config{
			Provider: llm.ProviderKind(getEnv("LLM_PROVIDER", string(llm.ProviderMock))),
			MockMode: getEnvBool("LLM_MOCK_MODE", false),
			Azure: llm.AzureConfig{
				Endpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
				APIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
				Deployment: getEnv("AZURE_OPENAI_DEPLOYMENT", ""),
				APIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-10-21"),
			},
			Ollama: llm.OllamaConfig{
				URL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
				Model: getEnv("OLLAMA_MODEL", "llama3.1:8b"),
			},
			MockDelay: time.Duration(getEnvInt("LLM_MOCK_DELAY_MS", 0)) * time.Millisecond,
		},
		Database: DatabaseConfig{
			Provider:   getEnv("DATABASE_PROVIDER", DatabaseMemory),
			SQLitePath: getEnv("DATABASE_SQLITE_PATH", "parley.db"),
			Cosmos: chatstore.CosmosConfig{
				Endpoint:         getEnv("AZURE_COSMOSDB_ENDPOINT", ""),
				Key:              getEnv("AZURE_COSMOSDB_KEY", ""),
				Database:         getEnv("AZURE_COSMOSDB_DATABASE", "parley"),
				Container:        getEnv("AZURE_COSMOSDB_CONTAINER", "chat"),
				ConsistencyLevel: getEnv("AZURE_COSMOSDB_CONSISTENCY_LEVEL", ""),
			},
		},
		StreamStore: StreamStoreConfig{
			Provider: getEnv("SSE_STREAM_STORE_PROVIDER", StreamStoreMemory),
			RedisURL: getEnv("REDIS_URL", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case llm.ProviderAzure, llm.ProviderOllama, llm.ProviderMock:
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLM.Provider)
	}

	switch c.Database.Provider {
	case DatabaseMemory, DatabaseSQLite, DatabaseCosmosDB:
	default:
		return fmt.Errorf("config: unknown DATABASE_PROVIDER %q", c.Database.Provider)
	}
	if c.Database.Provider == DatabaseCosmosDB {
		if c.Database.Cosmos.Endpoint == "" || c.Database.Cosmos.Key == "" {
			return fmt.Errorf("config: cosmosdb requires AZURE_COSMOSDB_ENDPOINT and AZURE_COSMOSDB_KEY")
		}
	}

	switch c.StreamStore.Provider {
	case StreamStoreMemory, StreamStoreRedis:
	default:
		return fmt.Errorf("config: unknown SSE_STREAM_STORE_PROVIDER %q", c.StreamStore.Provider)
	}
	if c.StreamStore.Provider == StreamStoreRedis && c.StreamStore.RedisURL == "" {
		return fmt.Errorf("config: redis stream store requires REDIS_URL")
	}

	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("config: APP_PORT %d out of range", c.App.Port)
	}
	return nil
}

// normalizeBasePath guarantees a leading slash and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}
