// Package badger is a directory-backed vector store on top of BadgerDB.
// Entries are scanned brute force on search, which is fine for a catalogue of
// a few tens of thousands of chunks.
package badger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"animerec/internal/domain"
	"animerec/internal/logging"
)

const (
	entryKeyPrefix = "entry:"
	dimensionKey   = "meta:dimension"
)

// ErrReadOnly is returned by mutating calls on a store opened read-only.
var ErrReadOnly = errors.New("vector store is read-only")

type entry struct {
	ID       string            `json:"id"`
	Chunk    domain.Chunk      `json:"chunk"`
	Vector   []float64         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store implements vectorstore.Storage.
type Store struct {
	mu        sync.RWMutex
	db        *badger.DB
	dir       string
	readOnly  bool
	dimension int
}

// Open opens (creating if needed) a store in dir. Badger holds a directory
// lock, so a second writer on the same dir fails here.
func Open(dir string, readOnly bool) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithReadOnly(readOnly).
		WithLogger(badgerLogger{logging.Component("badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %s: %w", dir, err)
	}
	s := &Store{db: db, dir: dir, readOnly: readOnly}
	if err := s.loadDimension(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadDimension() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dimensionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get dimension: %w", err)
		}
		return item.Value(func(val []byte) error {
			d, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("parse dimension: %w", err)
			}
			s.dimension = d
			return nil
		})
	})
}

// Dimension is the vector size fixed by Init, or 0 for an empty store.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Init drops any existing entries and records the vector dimension.
func (s *Store) Init(dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DropPrefix([]byte(entryKeyPrefix)); err != nil {
		return fmt.Errorf("drop entries: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(dimensionKey), []byte(strconv.Itoa(dimension)))
	}); err != nil {
		return fmt.Errorf("set dimension: %w", err)
	}
	s.dimension = dimension
	return nil
}

// Upsert stores each chunk under a freshly generated ID.
func (s *Store) Upsert(chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return errors.New("store not initialized")
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, chunk := range chunks {
		if len(vectors[i]) != s.dimension {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), s.dimension)
		}
		e := entry{
			ID:     uuid.NewString(),
			Chunk:  chunk,
			Vector: vectors[i],
			Metadata: map[string]string{
				"document_id": chunk.DocumentID,
			},
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := wb.Set([]byte(entryKeyPrefix+e.ID), data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush entries: %w", err)
	}
	return nil
}

// Search scores every entry by dot product (vectors are L2-normalized) and
// returns the best topK, highest first.
func (s *Store) Search(vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d, store dimension %d", len(vector), s.dimension)
	}

	var results []domain.SearchResult
	err := s.scan(func(e entry) {
		results = append(results, domain.SearchResult{Chunk: e.Chunk, Score: dot(e.Vector, vector)})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// List returns every stored chunk ordered by document and chunk index.
func (s *Store) List() ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []domain.Chunk
	if err := s.scan(func(e entry) { chunks = append(chunks, e.Chunk) }); err != nil {
		return nil, err
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Index < chunks[j].Index
	})
	return chunks, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(entryKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) scan(fn func(entry)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode entry %s: %w", it.Item().Key(), err)
			}
			fn(e)
		}
		return nil
	})
}

// Clear removes all entries and the recorded dimension.
func (s *Store) Clear() error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("drop all: %w", err)
	}
	s.dimension = 0
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// badgerLogger routes badger's internal logging through zerolog. Info and
// debug chatter is demoted so it only shows at debug level.
type badgerLogger struct{ l zerolog.Logger }

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error().Msgf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn().Msgf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debug().Msgf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Trace().Msgf(f, v...) }
