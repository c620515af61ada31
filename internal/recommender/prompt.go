package recommender

import (
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// MaxRecommendations is the number of entries requested and the cap applied to replies.
const MaxRecommendations = 5

const systemPrompt = `You are an expert anime recommendation system.
For non-anime queries:
- Return anime with conceptual connections
- Score 60-80 with clear explanations
- Example: "apple" -> "Fruit-themed anime"

For anime queries:
- Return direct matches
- Score 85-100
- Follow exact JSON format:
{
    "recommendations": [
        {
            "title": "string",
            "description": "string",
            "score": int,
            "genres": ["string"],
            "year": int,
            "why": "string"
        }
    ]
}`

// Sampling parameters sent with every request.
const (
	temperature = 0.7
	topP        = 0.9
	maxTokens   = 1200
)

// animeTerms are matched as substrings of the lowercased query.
var animeTerms = []string{
	"action", "comedy", "romance", "horror", "sci-fi", "fantasy",
	"drama", "mecha", "shounen", "shoujo", "seinen", "josei",
	"slice of life", "isekai", "psychological", "thriller", "anime",
}

// NormalizeQuery lowercases and trims query. Queries mentioning none of the
// anime terms are rewritten so the model still answers with anime.
func NormalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, term := range animeTerms {
		if strings.Contains(q, term) {
			return q
		}
	}
	if len(strings.Fields(q)) == 1 {
		return "anime about " + q
	}
	return "anime that relates to " + q
}

// BuildRequest assembles the chat-completion request for an already
// normalized query.
func BuildRequest(model, normalizedQuery string) openai.ChatCompletionRequest {
	temp := float32(temperature)
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Recommend %d anime for: '%s'", MaxRecommendations, normalizedQuery)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: &temp,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}
}
