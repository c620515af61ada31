package config

import (
	"fmt"
	"os"
	"strings"

	"animerec/internal/apperr"
)

// Environment variable names and model constants.
const (
	GroqAPIKeyEnv       = "GROQ_API_KEY"
	GroqModelEnv        = "GROQ_MODEL"
	HuggingFaceTokenEnv = "HUGGINGFACEHUB_API_TOKEN"

	// DefaultGroqModel is used by the recommender when GROQ_MODEL is unset.
	DefaultGroqModel = "llama3-70b-8192"
	// ConfiguredModel is the model constant carried by the settings layer.
	// It intentionally differs from DefaultGroqModel; see ModelWarning.
	ConfiguredModel = "mixtral-8x7b-32768"
	// EmbeddingModel is the sentence-transformers model used for chunk embeddings.
	EmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"
)

var placeholderPrefixes = []string{"---", "xxx", "your_"}

// GetKey reads a required environment variable. It fails when the variable is
// unset, empty, or looks like a template placeholder.
func GetKey(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", apperr.New(apperr.KindConfiguration,
			fmt.Sprintf("%s not found in environment variables", name), nil).With("key", name)
	}
	for _, prefix := range placeholderPrefixes {
		if strings.HasPrefix(value, prefix) {
			return "", apperr.New(apperr.KindConfiguration,
				fmt.Sprintf("%s appears to be a placeholder value", name), nil).With("key", name)
		}
	}
	return value, nil
}

// GroqAPIKey returns the validated Groq API key.
func GroqAPIKey() (string, error) { return GetKey(GroqAPIKeyEnv) }

// HuggingFaceToken returns the validated Hugging Face Hub token.
func HuggingFaceToken() (string, error) { return GetKey(HuggingFaceTokenEnv) }

// ValidateSecrets returns the first configuration error among the required keys.
func ValidateSecrets() error {
	for _, name := range []string{GroqAPIKeyEnv, HuggingFaceTokenEnv} {
		if _, err := GetKey(name); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether every required key is present and not a placeholder.
func Validate() bool { return ValidateSecrets() == nil }

// GroqModel resolves the chat model: explicit override, then GROQ_MODEL, then DefaultGroqModel.
func GroqModel(override string) string {
	if override != "" {
		return override
	}
	if m := strings.TrimSpace(os.Getenv(GroqModelEnv)); m != "" {
		return m
	}
	return DefaultGroqModel
}

// ModelWarning returns a non-empty message when the effective model differs from
// ConfiguredModel. The two are never reconciled automatically.
func ModelWarning(effective string) string {
	if effective == ConfiguredModel {
		return ""
	}
	return fmt.Sprintf("effective chat model %q differs from configured model constant %q", effective, ConfiguredModel)
}
