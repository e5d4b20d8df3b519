package vectorstore

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = []string{"steel", "concrete", "timber", "soil"}

// keywordEmbedding 按词频生成向量，相同主题的文本相似度更高
func keywordEmbedding(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, len(vocabulary)+1)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocabulary)] = 0.1
	return v, nil
}

func chunk(id, file, page, text string) Chunk {
	return Chunk{
		ID:   id,
		Text: text,
		Metadata: map[string]string{
			"source_file":           file,
			SourcePathField:         file,
			rag.FilenameFilterField: NormalizeFilename(file),
			"page_number":           page,
			"chunk_type":            "text",
		},
	}
}

func openTestStore(t *testing.T, persist string) *Store {
	t.Helper()
	s, err := Open(StoreConfig{PersistPath: persist, Collection: "test"}, keywordEmbedding, nil)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.Add(context.Background(), []Chunk{
		chunk("a1", "Steel.pdf", "1", "steel steel yield strength"),
		chunk("a2", "Steel.pdf", "2", "steel and concrete composite"),
		chunk("b1", "concrete.pdf", "3", "concrete concrete curing"),
		chunk("c1", "timber.pdf", "1", "timber timber grading"),
	}))
}

func TestStore_QueryRanksByDistance(t *testing.T) {
	s := openTestStore(t, "")
	seed(t, s)
	require.Equal(t, 4, s.Count())

	got, err := s.Query(context.Background(), "steel", 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Steel.pdf", got[0].Metadata["source_file"])
	assert.Equal(t, "1", got[0].Metadata["page_number"])
	assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
	assert.InDelta(t, 0, got[0].Distance, 0.05)
}

func TestStore_QueryCapsAtCollectionSize(t *testing.T) {
	s := openTestStore(t, "")
	seed(t, s)

	got, err := s.Query(context.Background(), "soil", 50, nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestStore_QueryFilterIn(t *testing.T) {
	s := openTestStore(t, "")
	seed(t, s)

	filter := &rag.Filter{Field: rag.FilenameFilterField, In: []string{"steel.pdf", "timber.pdf"}}
	got, err := s.Query(context.Background(), "timber", 10, filter)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "timber.pdf", got[0].Metadata["source_file"])
	for _, p := range got {
		assert.NotEqual(t, "concrete.pdf", p.Metadata["source_file"])
	}

	none, err := s.Query(context.Background(), "timber", 10, &rag.Filter{Field: rag.FilenameFilterField, In: []string{"missing.pdf"}})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_QueryEmptyCollection(t *testing.T) {
	s := openTestStore(t, "")
	got, err := s.Query(context.Background(), "steel", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_QueryRejectsBadInput(t *testing.T) {
	s := openTestStore(t, "")
	_, err := s.Query(context.Background(), "  ", 10, nil)
	assert.Error(t, err)
	_, err = s.Query(context.Background(), "steel", 10, &rag.Filter{Field: rag.FilenameFilterField})
	assert.Error(t, err)
}

func TestStore_DeleteSourceAndPersistence(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	seed(t, s)

	require.NoError(t, s.DeleteSource(context.Background(), "Steel.pdf"))
	assert.Equal(t, 2, s.Count())

	reopened := openTestStore(t, dir)
	assert.Equal(t, 2, reopened.Count())
}

func TestStore_EmbeddingErrorSurfaces(t *testing.T) {
	boom := errors.New("embedding service down")
	failing := func(context.Context, string) ([]float32, error) { return nil, boom }
	s, err := Open(StoreConfig{Collection: "fail"}, failing, nil)
	require.NoError(t, err)

	err = s.Add(context.Background(), []Chunk{chunk("x", "a.pdf", "1", "text")})
	assert.Error(t, err)
}

func TestCachedEmbeddingFunc(t *testing.T) {
	var calls atomic.Int32
	base := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return keywordEmbedding(ctx, text)
	})
	cached, err := CachedEmbeddingFunc(base, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cached(ctx, "steel")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, _ = cached(ctx, "concrete")
	_, _ = cached(ctx, "timber")
	_, _ = cached(ctx, "steel")
	assert.Equal(t, int32(4), calls.Load())
}

func TestNewEmbeddingFunc_RequiresCredentials(t *testing.T) {
	_, err := NewEmbeddingFunc(EmbeddingConfig{})
	assert.Error(t, err)
}
