package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshkb/freshkb/internal/chunk"
	"github.com/freshkb/freshkb/internal/embed"
	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/search"
)

const builderTestDims = 64

func newTestBuilder(t *testing.T, holder *search.GenerationHolder, embedder embed.Embedder) *Builder {
	t.Helper()
	chunker, err := chunk.New(chunk.DefaultConfig())
	require.NoError(t, err)

	b, err := NewBuilder(holder, chunker, embedder, Config{Dimensions: builderTestDims}, nil)
	require.NoError(t, err)
	return b
}

func TestBuilder_RebuildInstallsGeneration(t *testing.T) {
	holder := &search.GenerationHolder{}
	embedder := embed.NewStaticEmbedder(builderTestDims)
	b := newTestBuilder(t, holder, embedder)

	b.UpsertSource(SourceContent{
		SourceID:    "src-a",
		Text:        "Stale sources are refreshed when their TTL elapses. The coordinator enforces a cooldown between attempts.",
		ContentType: chunk.ContentTypeText,
		Metadata:    map[string]string{"category": "docs"},
	})

	gen, err := b.Rebuild(context.Background())
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, uint64(1), gen.Seq)
	assert.Greater(t, gen.ChunkCount(), 0)
	assert.Same(t, gen, holder.Load())

	for _, c := range gen.Chunks {
		assert.Equal(t, "src-a", c.SourceID)
		assert.Equal(t, "docs", c.Metadata["category"])
		assert.Equal(t, chunk.ID(c.SourceID, c.Text), c.ID)
	}
	assert.Equal(t, gen.ChunkCount(), gen.Keyword.DocCount())
	assert.Equal(t, gen.ChunkCount(), gen.Vector.Count())
}

func TestBuilder_RemoveSourceExcludedFromNextBuild(t *testing.T) {
	holder := &search.GenerationHolder{}
	embedder := embed.NewStaticEmbedder(builderTestDims)
	b := newTestBuilder(t, holder, embedder)
	ctx := context.Background()

	b.UpsertSource(SourceContent{SourceID: "src-a", Text: "First source content.", ContentType: chunk.ContentTypeText})
	b.UpsertSource(SourceContent{SourceID: "src-b", Text: "Second source content.", ContentType: chunk.ContentTypeText})

	_, err := b.Rebuild(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src-a", "src-b"}, b.SourceIDs())

	b.RemoveSource("src-b")
	gen, err := b.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen.Seq)
	for _, c := range gen.Chunks {
		assert.Equal(t, "src-a", c.SourceID)
	}
}

func TestBuilder_EmptySourcesBuildsEmptyGeneration(t *testing.T) {
	holder := &search.GenerationHolder{}
	b := newTestBuilder(t, holder, embed.NewStaticEmbedder(builderTestDims))

	gen, err := b.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, gen.ChunkCount())
}

// failingEmbedder breaks every batch to exercise rebuild failure paths.
type failingEmbedder struct{ *embed.StaticEmbedder }

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedding backend offline")
}

func TestBuilder_FailedRebuildKeepsOldGeneration(t *testing.T) {
	holder := &search.GenerationHolder{}
	good := embed.NewStaticEmbedder(builderTestDims)
	b := newTestBuilder(t, holder, good)
	ctx := context.Background()

	b.UpsertSource(SourceContent{SourceID: "src-a", Text: "Initial content.", ContentType: chunk.ContentTypeText})
	first, err := b.Rebuild(ctx)
	require.NoError(t, err)

	// Swap in a failing embedder and attempt another build.
	b.embedder = &failingEmbedder{StaticEmbedder: good}
	b.UpsertSource(SourceContent{SourceID: "src-a", Text: "Changed content.", ContentType: chunk.ContentTypeText})

	_, err = b.Rebuild(ctx)
	require.Error(t, err)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeEmbeddingFailed))

	// The first generation still serves.
	assert.Same(t, first, holder.Load())

	// Recovery: restore the embedder and rebuild.
	b.embedder = good
	gen, err := b.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen.Seq)
}

func TestBuilder_OnDiskGenerationDirectories(t *testing.T) {
	dir := t.TempDir()
	holder := &search.GenerationHolder{}
	chunker, err := chunk.New(chunk.DefaultConfig())
	require.NoError(t, err)

	b, err := NewBuilder(holder, chunker, embed.NewStaticEmbedder(builderTestDims), Config{
		DataDir:    dir,
		Dimensions: builderTestDims,
	}, nil)
	require.NoError(t, err)

	b.UpsertSource(SourceContent{SourceID: "src-a", Text: "Persisted content.", ContentType: chunk.ContentTypeText})
	_, err = b.Rebuild(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "gen-000001")
	assert.Contains(t, names, "build.lock")

	_, err = os.Stat(filepath.Join(dir, "gen-000001", "vectors.idx"))
	assert.NoError(t, err)
}

// TestBuilder_ConcurrentSearchesSeeSingleBuild hammers the engine with
// queries while rebuilds swap generations underneath it. Every result set
// must come from exactly one build; a mix of builds in one response means
// a reader observed a half-installed generation.
func TestBuilder_ConcurrentSearchesSeeSingleBuild(t *testing.T) {
	holder := &search.GenerationHolder{}
	embedder := embed.NewStaticEmbedder(builderTestDims)
	b := newTestBuilder(t, holder, embedder)
	ctx := context.Background()

	buildText := func(tag string) string {
		return fmt.Sprintf(
			"Shared retrieval content for build %s.\n\nShared staleness notes for build %s.\n\nShared fusion details for build %s.",
			tag, tag, tag)
	}
	upsert := func(tag string) {
		b.UpsertSource(SourceContent{
			SourceID:    "src-a",
			Text:        buildText(tag),
			ContentType: chunk.ContentTypeText,
			Metadata:    map[string]string{"build": tag},
		})
	}

	upsert("g0")
	_, err := b.Rebuild(ctx)
	require.NoError(t, err)

	engine, err := search.NewEngine(holder, embedder, search.DefaultEngineConfig(), nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	var mu sync.Mutex
	var violations []string
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := engine.Search(ctx, "shared", search.SearchOptions{Limit: 20})
				if err != nil {
					mu.Lock()
					violations = append(violations, fmt.Sprintf("search error: %v", err))
					mu.Unlock()
					return
				}
				seen := make(map[string]bool)
				for _, r := range results {
					seen[r.Metadata["build"]] = true
				}
				if len(seen) > 1 {
					mu.Lock()
					violations = append(violations, fmt.Sprintf("results span builds %v", seen))
					mu.Unlock()
					return
				}
			}
		}()
	}

	for i := 1; i <= 5; i++ {
		upsert(fmt.Sprintf("g%d", i))
		_, err := b.Rebuild(ctx)
		require.NoError(t, err)
	}

	close(stop)
	wg.Wait()
	assert.Empty(t, violations)
}

func TestBuilder_DeduplicatesIdenticalChunksWithinSource(t *testing.T) {
	holder := &search.GenerationHolder{}
	b := newTestBuilder(t, holder, embed.NewStaticEmbedder(builderTestDims))

	// Same paragraph twice; content addressing collapses the duplicates.
	para := "A repeated paragraph that will chunk identically."
	b.UpsertSource(SourceContent{
		SourceID:    "src-a",
		Text:        para + "\n\n" + para,
		ContentType: chunk.ContentTypeText,
	})

	gen, err := b.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gen.ChunkCount())
}
