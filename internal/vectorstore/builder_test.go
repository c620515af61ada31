package vectorstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animerec/internal/apperr"
	"animerec/internal/embedding/tfidf"
	"animerec/internal/vectorstore"
	badgerstore "animerec/internal/vectorstore/badger"
)

func openBadger(dir string, readOnly bool) (vectorstore.Storage, error) {
	return badgerstore.Open(dir, readOnly)
}

func writeProcessed(t *testing.T, dir string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, "anime_processed.csv")
	content := "combined_info\n"
	for _, r := range rows {
		content += "\"" + r + "\"\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildAndSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeProcessed(t, dir,
		"Title: Gundam | Overview: mecha pilots fight a war in space | Genres: Mecha, Sci-Fi",
		"Title: K-On | Overview: girls start a light music club | Genres: Music, Slice of Life",
	)
	persist := filepath.Join(dir, "vector_db")
	require.NoError(t, os.MkdirAll(persist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(persist, "stale.txt"), []byte("x"), 0o644))

	b, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{
		CSVPath: csvPath, PersistDir: persist, ChunkSize: 800, ChunkOverlap: 100,
	}, tfidf.NewEmbedder(), openBadger)
	require.NoError(t, err)

	store, err := b.BuildAndSave(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoFileExists(t, filepath.Join(persist, "stale.txt"))

	loaded, err := b.Load(context.Background())
	require.NoError(t, err)
	defer loaded.Close()

	lister, ok := loaded.(vectorstore.ChunkLister)
	require.True(t, ok)
	chunks, err := lister.List()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "row-1", chunks[0].DocumentID)
}

func TestBuildFailsOnMissingCSV(t *testing.T) {
	dir := t.TempDir()
	b, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{
		CSVPath: filepath.Join(dir, "missing.csv"), PersistDir: filepath.Join(dir, "db"), ChunkSize: 100, ChunkOverlap: 10,
	}, tfidf.NewEmbedder(), openBadger)
	require.NoError(t, err)

	_, err = b.BuildAndSave(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindVectorStore))
	assert.NoDirExists(t, filepath.Join(dir, "db"))
}

func TestBuildFailsOnEmptyCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeProcessed(t, dir)
	b, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{
		CSVPath: csvPath, PersistDir: filepath.Join(dir, "db"), ChunkSize: 100, ChunkOverlap: 10,
	}, tfidf.NewEmbedder(), openBadger)
	require.NoError(t, err)

	_, err = b.BuildAndSave(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents")
}

func TestNewBuilderRejectsOverlap(t *testing.T) {
	_, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{ChunkSize: 100, ChunkOverlap: 100},
		tfidf.NewEmbedder(), openBadger)
	require.Error(t, err)
	assert.Equal(t, apperr.KindVectorStore, apperr.KindOf(err))
}

func TestLoadMissingStore(t *testing.T) {
	b, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{
		PersistDir: filepath.Join(t.TempDir(), "absent"), ChunkSize: 100, ChunkOverlap: 0,
	}, tfidf.NewEmbedder(), openBadger)
	require.NoError(t, err)
	_, err = b.Load(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindVectorStore))
}

func TestLoadDocumentsSkipsBlankRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.csv")
	require.NoError(t, os.WriteFile(path, []byte("combined_info\nfirst\n\"\"\nthird\n"), 0o644))
	docs, err := vectorstore.LoadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "row-3", docs[1].ID)
	assert.Equal(t, "third", docs[1].Content)
}

func TestBuildRefusesLockedPersistDir(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeProcessed(t, dir, "Title: Mushishi | Overview: a wanderer studies mushi | Genres: Mystery")
	persist := filepath.Join(dir, "vector_db")
	b, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{
		CSVPath: csvPath, PersistDir: persist, ChunkSize: 800, ChunkOverlap: 100,
	}, tfidf.NewEmbedder(), openBadger)
	require.NoError(t, err)

	first, err := b.BuildAndSave(context.Background())
	require.NoError(t, err)

	// a second build must not delete the directory the first still writes to
	_, err = b.BuildAndSave(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrStoreLocked)
	assert.DirExists(t, persist)

	_, err = b.Load(context.Background())
	assert.ErrorIs(t, err, vectorstore.ErrStoreLocked)

	require.NoError(t, first.Close())
	loaded, err := b.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, loaded.Close())
}

func TestBuildRespectsLockHeldElsewhere(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeProcessed(t, dir, "Title: Akira | Overview: bikers in neo tokyo | Genres: Action")
	persist := filepath.Join(dir, "vector_db")
	require.NoError(t, os.MkdirAll(persist, 0o755))
	marker := filepath.Join(persist, "keep.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	held := flock.New(vectorstore.LockPath(persist))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	b, err := vectorstore.NewBuilder(vectorstore.BuilderConfig{
		CSVPath: csvPath, PersistDir: persist, ChunkSize: 800, ChunkOverlap: 100,
	}, tfidf.NewEmbedder(), openBadger)
	require.NoError(t, err)

	_, err = b.BuildAndSave(context.Background())
	assert.ErrorIs(t, err, vectorstore.ErrStoreLocked)
	assert.Equal(t, apperr.KindVectorStore, apperr.KindOf(err))
	assert.FileExists(t, marker)
}
