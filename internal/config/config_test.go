package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animerec/internal/apperr"
)

func TestGetKey(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{"valid", "gsk_live_123", ""},
		{"unset", "", "not found in environment variables"},
		{"dashes placeholder", "---replace-me---", "appears to be a placeholder value"},
		{"xxx placeholder", "xxxxxxxx", "appears to be a placeholder value"},
		{"your_ placeholder", "your_key_here", "appears to be a placeholder value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANIMEREC_TEST_KEY", tt.value)
			got, err := GetKey("ANIMEREC_TEST_KEY")
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.value, got)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
		})
	}
}

func TestValidateRejectsPlaceholderGroqKey(t *testing.T) {
	t.Setenv(GroqAPIKeyEnv, "your_key_here")
	t.Setenv(HuggingFaceTokenEnv, "hf_real_token")

	assert.False(t, Validate())
	err := ValidateSecrets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), GroqAPIKeyEnv)
}

func TestValidateRequiresHuggingFaceToken(t *testing.T) {
	t.Setenv(GroqAPIKeyEnv, "gsk_live_123")
	t.Setenv(HuggingFaceTokenEnv, "")
	assert.False(t, Validate())

	t.Setenv(HuggingFaceTokenEnv, "hf_real_token")
	assert.True(t, Validate())
}

func TestGroqModelResolution(t *testing.T) {
	t.Setenv(GroqModelEnv, "")
	assert.Equal(t, DefaultGroqModel, GroqModel(""))

	t.Setenv(GroqModelEnv, "llama-3.1-8b-instant")
	assert.Equal(t, "llama-3.1-8b-instant", GroqModel(""))
	assert.Equal(t, "gemma2-9b-it", GroqModel("gemma2-9b-it"))
}

func TestModelWarning(t *testing.T) {
	assert.NotEmpty(t, ModelWarning(DefaultGroqModel))
	assert.Empty(t, ModelWarning(ConfiguredModel))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "recursive", cfg.Chunker.Type)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 1200, cfg.LLM.RequestIntervalMs)
	assert.Equal(t, 2, cfg.Build.MaxRetries)
	require.NotNil(t, cfg.Embedder.HuggingFace)
	assert.Equal(t, EmbeddingModel, cfg.Embedder.HuggingFace.Model)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsOverlapNotSmallerThanSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker:\n  chunk_size: 100\n  chunk_overlap: 100\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ChunkOverlap")
}

func TestLoadRequiresQdrantSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vector_store:\n  type: qdrant\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTripKeepsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Embedder.Type = "tfidf"
	cfg.VectorStore.Type = "memory"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tfidf", loaded.Embedder.Type)
	assert.Equal(t, "memory", loaded.VectorStore.Type)
}

func TestLoadKeepsExplicitZeroKnobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "build:\n  max_retries: 0\nllm:\n  request_interval_ms: 0\nweb:\n  rate_limit_per_minute: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Build.MaxRetries)
	assert.Equal(t, 0, cfg.LLM.RequestIntervalMs)
	assert.Equal(t, 0, cfg.Web.RateLimitPerMinute)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts, "unset knobs keep their defaults")
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
}
