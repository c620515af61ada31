package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DataConfig holds the on-disk locations used by the build job.
type DataConfig struct {
	RawPath       string `yaml:"raw_path" validate:"required"`
	ProcessedPath string `yaml:"processed_path" validate:"required"`
	PersistDir    string `yaml:"persist_dir" validate:"required"`
}

// ChunkerConfig configures how processed records are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type" validate:"oneof=recursive sentence"`
	ChunkSize         int    `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap      int    `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk" validate:"gte=0"`
	OverlapSentences  int    `yaml:"overlap_sentences" validate:"gte=0"`
}

// HuggingFaceConfig configures the Hugging Face Inference API embedder.
type HuggingFaceConfig struct {
	BaseURL     string `yaml:"base_url"`
	TokenEnv    string `yaml:"token_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string             `yaml:"type" validate:"oneof=huggingface tfidf"`
	HuggingFace *HuggingFaceConfig `yaml:"huggingface,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" validate:"oneof=badger memory qdrant"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty" validate:"required_if=Type qdrant,omitempty"`
}

// LLMConfig configures the chat-completion client. Model overrides GROQ_MODEL when set.
type LLMConfig struct {
	BaseURL           string `yaml:"base_url" validate:"required,url"`
	Model             string `yaml:"model"`
	TimeoutSecs       int    `yaml:"timeout_secs" validate:"gt=0"`
	RequestIntervalMs int    `yaml:"request_interval_ms" validate:"gte=0"`
	MaxAttempts       int    `yaml:"max_attempts" validate:"gte=1"`
	BaseDelayMs       int    `yaml:"base_delay_ms" validate:"gte=0"`
	MaxDelayMs        int    `yaml:"max_delay_ms" validate:"gte=0"`
}

// BuildConfig configures the offline build job.
type BuildConfig struct {
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`
}

// WebConfig configures the HTTP presentation layer.
type WebConfig struct {
	Addr               string `yaml:"addr" validate:"required"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" validate:"gte=0"`
	SessionTTLMinutes  int    `yaml:"session_ttl_minutes" validate:"gte=0"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Build       BuildConfig       `yaml:"build"`
	Web         WebConfig         `yaml:"web"`
	Logging     LoggingConfig     `yaml:"logging"`
}

var validate = validator.New()

// Validate checks field constraints, e.g. chunk_overlap < chunk_size.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	// Decode over the defaults so an explicit zero in the file is kept.
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/animerec/config.yaml.
// If neither exists, it writes defaults to ~/.config/animerec/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "animerec", "config.yaml"), nil
}

// defaultConfig also carries the knobs where zero is a valid setting:
// no request spacing, no build retries, no rate limit.
func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		LLM:   LLMConfig{RequestIntervalMs: 1200},
		Build: BuildConfig{MaxRetries: 2},
		Web:   WebConfig{RateLimitPerMinute: 30},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Data.RawPath == "" {
		cfg.Data.RawPath = "data/anime_with_synopsis.csv"
	}
	if cfg.Data.ProcessedPath == "" {
		cfg.Data.ProcessedPath = "data/anime_processed.csv"
	}
	if cfg.Data.PersistDir == "" {
		cfg.Data.PersistDir = "vector_db"
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "recursive"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 800
		if cfg.Chunker.ChunkOverlap == 0 {
			cfg.Chunker.ChunkOverlap = 100
		}
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "huggingface"
	}
	if cfg.Embedder.Type == "huggingface" {
		if cfg.Embedder.HuggingFace == nil {
			cfg.Embedder.HuggingFace = &HuggingFaceConfig{}
		}
		hf := cfg.Embedder.HuggingFace
		if hf.BaseURL == "" {
			hf.BaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction/"
		}
		if hf.TokenEnv == "" {
			hf.TokenEnv = HuggingFaceTokenEnv
		}
		if hf.Model == "" {
			hf.Model = EmbeddingModel
		}
		if hf.TimeoutSecs == 0 {
			hf.TimeoutSecs = 30
		}
		if hf.BatchSize == 0 {
			hf.BatchSize = 32
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "badger"
	}
	if cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
		cfg.VectorStore.Qdrant.TimeoutSecs = 15
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 20
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.BaseDelayMs == 0 {
		cfg.LLM.BaseDelayMs = 1500
	}
	if cfg.LLM.MaxDelayMs == 0 {
		cfg.LLM.MaxDelayMs = 10000
	}

	if cfg.Web.Addr == "" {
		cfg.Web.Addr = ":8501"
	}
	if cfg.Web.SessionTTLMinutes == 0 {
		cfg.Web.SessionTTLMinutes = 60
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
