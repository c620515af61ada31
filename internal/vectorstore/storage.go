package vectorstore

import "animerec/internal/domain"

// Storage persists vectors and supports similarity search.
type Storage interface {
	Init(dimension int) error
	Upsert(chunks []domain.Chunk, vectors [][]float64) error
	Search(vector []float64, topK int) ([]domain.SearchResult, error)
	Clear() error
	Close() error
}

// ChunkLister is implemented by stores that can enumerate their chunks. Query
// embedders that learn a vocabulary (tfidf) re-prepare from it after Load.
type ChunkLister interface {
	List() ([]domain.Chunk, error)
}

// Opener opens the store rooted at dir. A readOnly store rejects writes.
type Opener func(dir string, readOnly bool) (Storage, error)
