// Package config holds the explicit configuration object shared by all
// components. Values come from the environment (optionally seeded from a
// .env file), an optional YAML file, and documented defaults, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	BackendLocal    = "local"
	BackendPgvector = "pgvector"
)

// Pipeline defaults. These replace the module-level globals of earlier
// revisions; every component receives them through Config.
const (
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultTopK             = 5
	DefaultDepth            = 1
	DefaultMaxContextLength = 3000
	DefaultTemperature      = 0.3
	DefaultMaxTokens        = 500
)

// DefaultInstructions is appended to every generation prompt unless the
// caller overrides it.
const DefaultInstructions = "Provide a clear and concise response, quoting the exact text from the context as evidence and including the source references in the format [Source: filename]."

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type IndexConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type PipelineConfig struct {
	ChunkSize        int     `yaml:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap"`
	TopK             int     `yaml:"top_k"`
	Depth            int     `yaml:"depth"`
	MaxContextLength int     `yaml:"max_context_length"`
	Temperature      float32 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	Instructions     string  `yaml:"instructions"`
}

type Config struct {
	DataDir    string          `yaml:"data_dir"`
	Index      IndexConfig     `yaml:"index"`
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	LLM        LLMConfig       `yaml:"llm"`
	Pipeline   PipelineConfig  `yaml:"pipeline"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// Load builds a Config from defaults, an optional YAML file, and the
// environment. An empty path means "use quarry.yaml if it exists".
func Load(path string) (Config, error) {
	// Missing .env files are fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "quarry.yaml"
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		DataDir: "data",
		Index: IndexConfig{
			Backend: BackendLocal,
			Dir:     "vector_store",
		},
		Embeddings: EmbeddingConfig{
			Provider: ProviderOllama,
			Model:    "nomic-embed-text",
		},
		LLM: LLMConfig{
			Provider: ProviderOllama,
			Model:    "deepseek-r1:8b",
		},
		Pipeline: PipelineConfig{
			ChunkSize:        DefaultChunkSize,
			ChunkOverlap:     DefaultChunkOverlap,
			TopK:             DefaultTopK,
			Depth:            DefaultDepth,
			MaxContextLength: DefaultMaxContextLength,
			Temperature:      DefaultTemperature,
			MaxTokens:        DefaultMaxTokens,
			Instructions:     DefaultInstructions,
		},
		OllamaHost:  "http://localhost:11434",
		PostgresDSN: "postgres://localhost:5432/quarry?sslmode=disable",
	}
}

// Save writes the config to path as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.Index.Backend = getEnv("INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Dir = getEnv("INDEX_DIR", cfg.Index.Dir)
	cfg.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension)
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.ChunkSize <= 0 {
		cfg.Pipeline.ChunkSize = DefaultChunkSize
	}
	if cfg.Pipeline.ChunkOverlap < 0 {
		cfg.Pipeline.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Pipeline.TopK <= 0 {
		cfg.Pipeline.TopK = DefaultTopK
	}
	if cfg.Pipeline.Depth <= 0 {
		cfg.Pipeline.Depth = DefaultDepth
	}
	if cfg.Pipeline.MaxContextLength <= 0 {
		cfg.Pipeline.MaxContextLength = DefaultMaxContextLength
	}
	if cfg.Pipeline.Temperature <= 0 {
		cfg.Pipeline.Temperature = DefaultTemperature
	}
	if cfg.Pipeline.MaxTokens <= 0 {
		cfg.Pipeline.MaxTokens = DefaultMaxTokens
	}
	if cfg.Pipeline.Instructions == "" {
		cfg.Pipeline.Instructions = DefaultInstructions
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendLocal
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
