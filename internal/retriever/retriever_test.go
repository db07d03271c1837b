package retriever

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

type fixture struct {
	store storage.Storage
	index *vector.MemoryIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	index, err := vector.NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, index: index}
}

// addChunk stores a chunk under docID and indexes it with the given vector.
func (f *fixture) addChunk(t *testing.T, docID, chunkID, text string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.GetDocument(ctx, docID); err != nil {
		doc := &models.Document{ID: docID, Title: docID + ".txt", Source: "/docs/" + docID}
		if err := f.store.CreateDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	ch := &models.Chunk{ID: chunkID, DocumentID: docID, Text: text}
	if err := f.store.BatchCreateChunks(ctx, []*models.Chunk{ch}); err != nil {
		t.Fatal(err)
	}
	if err := f.index.Add(ctx, []string{chunkID}, [][]float32{vec}); err != nil {
		t.Fatal(err)
	}
}

func TestRetrieveOrderingAndThreshold(t *testing.T) {
	f := newFixture(t)
	f.addChunk(t, "doc-a", "c1", "highly relevant", []float32{1, 0})
	f.addChunk(t, "doc-b", "c2", "somewhat relevant", []float32{0.8, 0.6})
	f.addChunk(t, "doc-c", "c3", "irrelevant", []float32{0, 1})

	r := NewRetriever(f.store, f.index, &fixedEmbedder{vec: []float32{1, 0}}, nil)
	result, err := r.Retrieve(context.Background(), "question", 3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if result.NoContext {
		t.Fatal("unexpected NoContext")
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("chunks: %d", len(result.Chunks))
	}
	for i := 1; i < len(result.Chunks); i++ {
		if result.Chunks[i].Score > result.Chunks[i-1].Score {
			t.Error("scores not descending")
		}
	}
	for _, ch := range result.Chunks {
		if ch.Score < 0.5 {
			t.Errorf("score %f below threshold", ch.Score)
		}
	}
	if result.Chunks[0].Chunk.ID != "c1" {
		t.Errorf("best chunk: %s", result.Chunks[0].Chunk.ID)
	}
	if result.Chunks[0].SourceTitle != "doc-a.txt" {
		t.Errorf("source title: %q", result.Chunks[0].SourceTitle)
	}
}

func TestRetrieveNoContext(t *testing.T) {
	f := newFixture(t)
	f.addChunk(t, "doc-a", "c1", "off topic", []float32{0, 1})

	r := NewRetriever(f.store, f.index, &fixedEmbedder{vec: []float32{1, 0}}, nil)
	result, err := r.Retrieve(context.Background(), "question", 3, 0.6)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NoContext {
		t.Error("expected NoContext marker")
	}
	if len(result.Chunks) != 0 {
		t.Errorf("chunks: %d", len(result.Chunks))
	}
}

func TestRetrieveDedupDominatingSource(t *testing.T) {
	f := newFixture(t)
	// Three of four hits come from doc-a: with k=4, 3 > 4/2, so doc-a keeps
	// only its best chunk.
	f.addChunk(t, "doc-a", "a1", "chunk one", []float32{1, 0})
	f.addChunk(t, "doc-a", "a2", "chunk two", []float32{0.98, 0.199})
	f.addChunk(t, "doc-a", "a3", "chunk three", []float32{0.96, 0.28})
	f.addChunk(t, "doc-b", "b1", "other doc", []float32{0.9, 0.436})

	r := NewRetriever(f.store, f.index, &fixedEmbedder{vec: []float32{1, 0}}, nil)
	result, err := r.Retrieve(context.Background(), "question", 4, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("chunks after dedup: %d", len(result.Chunks))
	}
	if result.Chunks[0].Chunk.ID != "a1" || result.Chunks[1].Chunk.ID != "b1" {
		t.Errorf("kept chunks: %s, %s", result.Chunks[0].Chunk.ID, result.Chunks[1].Chunk.ID)
	}
}

func TestRetrieveNoDedupBelowMajority(t *testing.T) {
	f := newFixture(t)
	// Two of four hits from doc-a: 2 is not > 4/2, so nothing is dropped.
	f.addChunk(t, "doc-a", "a1", "chunk one", []float32{1, 0})
	f.addChunk(t, "doc-a", "a2", "chunk two", []float32{0.98, 0.199})
	f.addChunk(t, "doc-b", "b1", "other one", []float32{0.96, 0.28})
	f.addChunk(t, "doc-c", "c1", "other two", []float32{0.9, 0.436})

	r := NewRetriever(f.store, f.index, &fixedEmbedder{vec: []float32{1, 0}}, nil)
	result, err := r.Retrieve(context.Background(), "question", 4, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Chunks) != 4 {
		t.Errorf("chunks: %d", len(result.Chunks))
	}
}

func TestRetrieveInputValidation(t *testing.T) {
	f := newFixture(t)
	r := NewRetriever(f.store, f.index, &fixedEmbedder{vec: []float32{1, 0}}, nil)

	cases := []struct {
		k         int
		threshold float64
	}{
		{0, 0.5},
		{-1, 0.5},
		{3, -0.1},
		{3, 1.5},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("k=%d,threshold=%v", tc.k, tc.threshold), func(t *testing.T) {
			if _, err := r.Retrieve(context.Background(), "q", tc.k, tc.threshold); err == nil {
				t.Error("expected input error")
			}
		})
	}
}
