package vectorstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"animerec/internal/apperr"
	"animerec/internal/chunker"
	"animerec/internal/domain"
	"animerec/internal/embedding"
	"animerec/internal/logging"
)

// CombinedColumn is the single column of a processed CSV.
const CombinedColumn = "combined_info"

// ErrStoreLocked is returned when another process holds the persist
// directory's lock file.
var ErrStoreLocked = errors.New("vector store is locked by another process")

// LockPath is the lock file guarding dir. It sits beside dir because the
// build removes dir itself.
func LockPath(dir string) string {
	return filepath.Clean(dir) + ".lock"
}

// BuilderConfig locates the processed CSV and the persist directory.
type BuilderConfig struct {
	CSVPath      string
	PersistDir   string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// Builder turns a processed CSV into a persisted vector store.
type Builder struct {
	cfg      BuilderConfig
	chunker  domain.Chunker
	embedder embedding.Embedder
	open     Opener
	log      zerolog.Logger
}

type BuilderOption func(*Builder)

// WithChunker replaces the default recursive character splitter.
func WithChunker(c domain.Chunker) BuilderOption {
	return func(b *Builder) { b.chunker = c }
}

// NewBuilder validates the chunking parameters up front, so a bad overlap
// fails before any file is read.
func NewBuilder(cfg BuilderConfig, embedder embedding.Embedder, open Opener, opts ...BuilderOption) (*Builder, error) {
	if embedder == nil || open == nil {
		return nil, apperr.New(apperr.KindVectorStore, "builder needs an embedder and a store opener", nil)
	}
	b := &Builder{
		cfg:      cfg,
		embedder: embedder,
		open:     open,
		log:      logging.Component("vectorstore"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.chunker == nil {
		splitter, err := chunker.NewRecursiveCharacterSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
		if err != nil {
			return nil, apperr.New(apperr.KindVectorStore, "invalid chunking parameters", err).
				With("chunk_size", cfg.ChunkSize).With("chunk_overlap", cfg.ChunkOverlap)
		}
		b.chunker = splitter
	}
	return b, nil
}

// BuildAndSave reads every combined_info row, splits, embeds and writes a fresh
// store in PersistDir, replacing whatever was there. An exclusive lock on
// LockPath(PersistDir) is held from the start until the returned store is
// closed, so a concurrent build or reader fails with ErrStoreLocked instead
// of removing a live directory.
func (b *Builder) BuildAndSave(ctx context.Context) (Storage, error) {
	start := time.Now()
	lock, err := b.lock(false)
	if err != nil {
		return b.fail("lock persist dir", err)
	}
	store, err := b.build(ctx)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	b.log.Info().Dur("elapsed", time.Since(start)).Str("persist_dir", b.cfg.PersistDir).Msg("vector store built")
	return &lockedStore{Storage: store, lock: lock}, nil
}

func (b *Builder) fail(msg string, err error) (Storage, error) {
	return nil, apperr.New(apperr.KindVectorStore, msg, err).
		With("csv_path", b.cfg.CSVPath).With("persist_dir", b.cfg.PersistDir)
}

func (b *Builder) build(ctx context.Context) (Storage, error) {
	fail := b.fail

	docs, err := LoadDocuments(b.cfg.CSVPath)
	if err != nil {
		return fail("load documents", err)
	}
	if len(docs) == 0 {
		return fail("no documents to index", nil)
	}

	var chunks []domain.Chunk
	for _, doc := range docs {
		cs, err := b.chunker.Chunk(doc)
		if err != nil {
			return fail("split document "+doc.ID, err)
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return fail("documents produced no chunks", nil)
	}
	b.log.Info().Int("documents", len(docs)).Int("chunks", len(chunks)).Msg("documents split")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := b.embedder.Prepare(texts); err != nil {
		return fail("prepare embedder", err)
	}
	vectors, err := embedding.EmbedAll(ctx, b.embedder, texts, b.cfg.BatchSize)
	if err != nil {
		return fail("embed chunks", err)
	}

	if err := os.RemoveAll(b.cfg.PersistDir); err != nil {
		return fail("remove previous store", err)
	}
	if err := os.MkdirAll(b.cfg.PersistDir, 0o755); err != nil {
		return fail("create persist dir", err)
	}
	store, err := b.open(b.cfg.PersistDir, false)
	if err != nil {
		return fail("open store", err)
	}
	if err := store.Init(len(vectors[0])); err != nil {
		_ = store.Close()
		return fail("init store", err)
	}
	if err := store.Upsert(chunks, vectors); err != nil {
		_ = store.Close()
		return fail("write vectors", err)
	}

	b.log.Info().
		Str("embedder", b.embedder.Name()).
		Int("dimension", len(vectors[0])).
		Int("entries", len(chunks)).
		Msg("vectors written")
	return store, nil
}

// Load reopens a previously built store read-only. It holds a shared lock
// until the store is closed, so it fails while a build is running.
func (b *Builder) Load(_ context.Context) (Storage, error) {
	if _, err := os.Stat(b.cfg.PersistDir); err != nil {
		return nil, apperr.New(apperr.KindVectorStore, "vector store not found", err).
			With("persist_dir", b.cfg.PersistDir)
	}
	lock, err := b.lock(true)
	if err != nil {
		return nil, apperr.New(apperr.KindVectorStore, "lock persist dir", err).
			With("persist_dir", b.cfg.PersistDir)
	}
	store, err := b.open(b.cfg.PersistDir, true)
	if err != nil {
		_ = lock.Unlock()
		return nil, apperr.New(apperr.KindVectorStore, "open vector store", err).
			With("persist_dir", b.cfg.PersistDir)
	}
	return &lockedStore{Storage: store, lock: lock}, nil
}

func (b *Builder) lock(shared bool) (*flock.Flock, error) {
	path := LockPath(b.cfg.PersistDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	try := fl.TryLock
	if shared {
		try = fl.TryRLock
	}
	ok, err := try()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", path, err)
	}
	if !ok {
		return nil, ErrStoreLocked
	}
	return fl, nil
}

// lockedStore releases the persist dir lock when the store is closed.
type lockedStore struct {
	Storage
	lock *flock.Flock
}

// List delegates to the wrapped store when it can enumerate chunks.
func (s *lockedStore) List() ([]domain.Chunk, error) {
	if l, ok := s.Storage.(ChunkLister); ok {
		return l.List()
	}
	return nil, errors.New("store cannot list chunks")
}

func (s *lockedStore) Close() error {
	return errors.Join(s.Storage.Close(), s.lock.Unlock())
}

// LoadDocuments reads the combined_info column of a processed CSV, one
// document per non-blank row.
func LoadDocuments(path string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == CombinedColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in %s", CombinedColumn, path)
	}

	var docs []domain.Document
	for row := 1; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if col >= len(rec) || strings.TrimSpace(rec[col]) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			ID:      fmt.Sprintf("row-%d", row),
			Source:  path,
			Row:     row,
			Content: rec[col],
		})
	}
	return docs, nil
}
