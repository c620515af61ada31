package service

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"animerec/internal/apperr"
	"animerec/internal/domain"
	"animerec/internal/embedding"
	"animerec/internal/vectorstore"
)

// Searcher runs similarity queries against a persisted store. It is an offline
// inspection tool; live recommendations come from the chat model directly.
type Searcher struct {
	store    vectorstore.Storage
	embedder embedding.Embedder
	chunks   []domain.Chunk
}

// NewSearcher prepares embedder from the stored chunks when the store can list
// them, so vocabulary-based embedders see the same corpus as at build time.
func NewSearcher(store vectorstore.Storage, embedder embedding.Embedder) (*Searcher, error) {
	s := &Searcher{store: store, embedder: embedder}
	lister, ok := store.(vectorstore.ChunkLister)
	if !ok {
		return s, nil
	}
	chunks, err := lister.List()
	if err != nil {
		return nil, apperr.New(apperr.KindVectorStore, "list stored chunks", err)
	}
	s.chunks = chunks
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		if err := embedder.Prepare(texts); err != nil {
			return nil, apperr.New(apperr.KindVectorStore, "prepare query embedder", err)
		}
	}
	return s, nil
}

// Search returns the topK closest chunks. When the query embeds to a zero
// vector, or nothing scores above zero, it falls back to token overlap.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.New(apperr.KindVectorStore, "embed query", err).With("query", query)
	}
	if isZero(vec) {
		return s.lexicalSearch(query, topK), nil
	}
	res, err := s.store.Search(vec, topK)
	if err != nil {
		return nil, apperr.New(apperr.KindVectorStore, "search", err).With("query", query)
	}
	for _, r := range res {
		if r.Score > 1e-9 {
			return res, nil
		}
	}
	return s.lexicalSearch(query, topK), nil
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

var wordRe = regexp.MustCompile(`\p{L}+(?:['’-]\p{L}+)*|\p{N}+`)

// lexicalSearch ranks chunks by the Ochiai coefficient of their token sets.
func (s *Searcher) lexicalSearch(query string, topK int) []domain.SearchResult {
	qset := tokenSet(query)
	out := make([]domain.SearchResult, 0, len(s.chunks))
	for _, ch := range s.chunks {
		if score := ochiai(qset, tokenSet(ch.Text)); score > 0 {
			out = append(out, domain.SearchResult{Chunk: ch, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
