package service

import (
	"context"

	"github.com/rs/zerolog"

	"animerec/internal/apperr"
	"animerec/internal/config"
	"animerec/internal/domain"
	"animerec/internal/logging"
	"animerec/internal/recommender"
)

// Recommender is the part of recommender.Client the pipeline depends on.
type Recommender interface {
	GetRecommendations(ctx context.Context, query string) ([]domain.Recommendation, error)
}

// Pipeline is the single entry point used by the presentation layers.
type Pipeline struct {
	rec Recommender
	log zerolog.Logger
}

// NewPipeline builds the recommendation client once. Any failure here is a
// system initialization error, distinct from a per-query failure.
func NewPipeline(cfg *config.AppConfig, opts ...recommender.Option) (*Pipeline, error) {
	key, err := config.GroqAPIKey()
	if err != nil {
		return nil, apperr.New(apperr.KindSystemInit, "system initialization failed", err)
	}
	rcfg := recommender.ConfigFrom(cfg.LLM, key)
	client, err := recommender.New(rcfg, opts...)
	if err != nil {
		return nil, apperr.New(apperr.KindSystemInit, "system initialization failed", err)
	}
	p := NewPipelineWith(client)
	if w := config.ModelWarning(client.Model()); w != "" {
		p.log.Warn().Str("model", client.Model()).Msg(w)
	}
	return p, nil
}

// NewPipelineWith wraps an already constructed recommender.
func NewPipelineWith(rec Recommender) *Pipeline {
	return &Pipeline{rec: rec, log: logging.Component("pipeline")}
}

// Recommend returns the recommendations for query. An empty slice is a valid
// answer; every failure comes back as a recommendation error carrying query.
func (p *Pipeline) Recommend(ctx context.Context, query string) ([]domain.Recommendation, error) {
	p.log.Info().Str("query", query).Msg("processing query")
	recs, err := p.rec.GetRecommendations(ctx, query)
	if err != nil {
		p.log.Error().Err(err).Str("query", query).Msg("pipeline error")
		return nil, apperr.New(apperr.KindRecommendation, "failed to generate recommendations", err).
			With("query", query)
	}
	if len(recs) == 0 {
		p.log.Warn().Str("query", query).Msg("no recommendations generated")
		return []domain.Recommendation{}, nil
	}
	p.log.Info().Int("count", len(recs)).Msg("recommendations generated")
	return recs, nil
}
