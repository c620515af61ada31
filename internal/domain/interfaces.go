package domain

// Document is one processed record (a combined_info row) loaded for indexing.
type Document struct {
	ID      string
	Source  string
	Row     int
	Content string
}

// Chunk is a bounded slice of a document's text, the unit of embedding.
type Chunk struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	Text       string `json:"text"`
	Index      int    `json:"index"`
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Recommendation is one validated entry of a recommender reply.
// MatchScore is always within [1, 100].
type Recommendation struct {
	Anime       string   `json:"anime"`
	Description string   `json:"description"`
	MatchScore  int      `json:"match_score"`
	Genres      []string `json:"genres"`
	Year        string   `json:"year"`
	Why         string   `json:"why"`
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}
