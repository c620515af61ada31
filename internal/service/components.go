package service

import (
	"fmt"
	"time"

	"animerec/internal/chunker"
	"animerec/internal/config"
	"animerec/internal/domain"
	"animerec/internal/embedding"
	"animerec/internal/embedding/huggingface"
	"animerec/internal/embedding/tfidf"
	"animerec/internal/vectorstore"
	badgerstore "animerec/internal/vectorstore/badger"
	"animerec/internal/vectorstore/memory"
	"animerec/internal/vectorstore/qdrant"
)

// NewEmbedder assembles the embedder selected by cfg.Embedder.Type.
func NewEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "huggingface", "":
		hf := cfg.Embedder.HuggingFace
		if hf == nil {
			return nil, fmt.Errorf("huggingface embedder config missing")
		}
		token, err := config.GetKey(hf.TokenEnv)
		if err != nil {
			return nil, err
		}
		client, err := huggingface.NewClient(huggingface.Config{
			BaseURL: hf.BaseURL,
			Token:   token,
			Model:   hf.Model,
			Timeout: time.Duration(hf.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

// NewChunker returns nil for the default recursive splitter, which the
// builder creates from chunk_size and chunk_overlap itself.
func NewChunker(cfg *config.AppConfig) (domain.Chunker, error) {
	switch cfg.Chunker.Type {
	case "recursive", "":
		return nil, nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}
}

// NewOpener returns the store opener selected by cfg.VectorStore.Type. The
// memory store lives only as long as the process; qdrant ignores the directory.
func NewOpener(cfg *config.AppConfig) (vectorstore.Opener, error) {
	switch cfg.VectorStore.Type {
	case "badger", "":
		return func(dir string, readOnly bool) (vectorstore.Storage, error) {
			return badgerstore.Open(dir, readOnly)
		}, nil
	case "memory":
		st := memory.NewStorage()
		return func(string, bool) (vectorstore.Storage, error) { return st, nil }, nil
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		if q == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return func(string, bool) (vectorstore.Storage, error) {
			return qdrant.NewStorage(qdrant.Config{
				URL:        q.URL,
				APIKey:     q.APIKey,
				Collection: q.Collection,
				Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
			}), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

// NewBuilder wires the vector-store builder from cfg.
func NewBuilder(cfg *config.AppConfig, emb embedding.Embedder, open vectorstore.Opener) (*vectorstore.Builder, error) {
	ch, err := NewChunker(cfg)
	if err != nil {
		return nil, err
	}
	var opts []vectorstore.BuilderOption
	if ch != nil {
		opts = append(opts, vectorstore.WithChunker(ch))
	}
	batch := 0
	if cfg.Embedder.HuggingFace != nil {
		batch = cfg.Embedder.HuggingFace.BatchSize
	}
	return vectorstore.NewBuilder(vectorstore.BuilderConfig{
		CSVPath:      cfg.Data.ProcessedPath,
		PersistDir:   cfg.Data.PersistDir,
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
		BatchSize:    batch,
	}, emb, open, opts...)
}
