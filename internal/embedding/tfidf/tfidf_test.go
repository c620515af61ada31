package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedBeforePrepareFails(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), "mecha")
	assert.Error(t, err)
}

func TestPrepareEmptyCorpus(t *testing.T) {
	assert.Error(t, NewEmbedder().Prepare(nil))
	assert.Error(t, NewEmbedder().Prepare([]string{"the and of"}))
}

func TestEmbedIsUnitLengthAndRanksRelatedText(t *testing.T) {
	e := NewEmbedder()
	corpus := []string{
		"Title: Gundam | Overview: giant mecha pilots wage war in space",
		"Title: K-On | Overview: high school girls form a light music club",
		"Title: Clannad | Overview: a delinquent meets a girl at school",
	}
	require.NoError(t, e.Prepare(corpus))
	assert.Greater(t, e.Dimension(), 0)

	q, err := e.Embed(context.Background(), "mecha war")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(q), 1e-9)

	vecs, err := e.EmbedBatch(context.Background(), corpus)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Greater(t, dot(q, vecs[0]), dot(q, vecs[1]))
	assert.Greater(t, dot(q, vecs[0]), dot(q, vecs[2]))
}

func TestEmbedUnknownTermsIsZeroVector(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"ninja village"}))
	v, err := e.Embed(context.Background(), "spaceship")
	require.NoError(t, err)
	assert.Equal(t, 0.0, norm(v))
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 { return math.Sqrt(dot(v, v)) }
