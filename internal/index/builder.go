// Package index builds immutable index generations. A rebuild chunks and
// embeds every registered source into a fresh keyword and vector index
// pair, then swaps the pair in atomically. A failed rebuild leaves the
// previous generation serving.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/freshkb/freshkb/internal/chunk"
	"github.com/freshkb/freshkb/internal/embed"
	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/search"
	"github.com/freshkb/freshkb/internal/store"
)

// SourceContent is the raw material of one source for indexing.
type SourceContent struct {
	SourceID    string
	Text        string
	ContentType chunk.ContentType
	Metadata    map[string]string
}

// Config configures the builder.
type Config struct {
	// DataDir is the root for on-disk index generations. Empty keeps
	// all generations in memory.
	DataDir string

	// VectorBackend selects the vector store ("hnsw" or "chromem").
	VectorBackend string

	// Dimensions is the embedding dimension.
	Dimensions int

	// EmbedBatchSize bounds the texts sent per embedding request.
	EmbedBatchSize int
}

// Builder turns source contents into index generations.
type Builder struct {
	mu       sync.Mutex
	holder   *search.GenerationHolder
	chunker  *chunk.Chunker
	embedder embed.Embedder
	config   Config
	logger   *slog.Logger

	sources map[string]SourceContent
	seq     uint64

	buildLock *flock.Flock
}

// NewBuilder creates a builder that installs generations into holder.
func NewBuilder(holder *search.GenerationHolder, chunker *chunk.Chunker, embedder embed.Embedder, cfg Config, logger *slog.Logger) (*Builder, error) {
	if holder == nil || chunker == nil || embedder == nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "holder, chunker and embedder are required", nil)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = embedder.Dimensions()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embed.DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Builder{
		holder:   holder,
		chunker:  chunker,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		sources:  make(map[string]SourceContent),
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		b.buildLock = flock.New(filepath.Join(cfg.DataDir, "build.lock"))
	}

	return b, nil
}

// UpsertSource stores or replaces a source's content for the next rebuild.
func (b *Builder) UpsertSource(content SourceContent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[content.SourceID] = content
}

// RemoveSource drops a source from the next rebuild.
func (b *Builder) RemoveSource(sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sources, sourceID)
}

// SourceIDs lists the sources currently held for indexing.
func (b *Builder) SourceIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sources))
	for id := range b.sources {
		ids = append(ids, id)
	}
	return ids
}

// Rebuild constructs a new generation from all held sources and swaps it
// in. On any failure the current generation keeps serving and the partial
// build is discarded.
func (b *Builder) Rebuild(ctx context.Context) (*search.Generation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buildLock != nil {
		locked, err := b.buildLock.TryLock()
		if err != nil {
			return nil, kberrors.IngestionError("acquire build lock", err)
		}
		if !locked {
			return nil, kberrors.New(kberrors.ErrCodeRefreshInFlight, "another process holds the build lock", nil)
		}
		defer func() { _ = b.buildLock.Unlock() }()
	}

	start := time.Now()
	seq := b.seq + 1

	gen, genDir, err := b.build(ctx, seq)
	if err != nil {
		if genDir != "" {
			_ = os.RemoveAll(genDir)
		}
		b.logger.Error("index_rebuild_failed",
			slog.Uint64("seq", seq),
			slog.String("error", err.Error()))
		return nil, err
	}

	b.seq = seq
	old := b.holder.Swap(gen)
	b.retire(old)

	b.logger.Info("index_rebuilt",
		slog.Uint64("seq", seq),
		slog.Int("sources", len(b.sources)),
		slog.Int("chunks", gen.ChunkCount()),
		slog.Duration("duration", time.Since(start)))

	return gen, nil
}

func (b *Builder) build(ctx context.Context, seq uint64) (*search.Generation, string, error) {
	var genDir, bm25Path string
	if b.config.DataDir != "" {
		genDir = filepath.Join(b.config.DataDir, fmt.Sprintf("gen-%06d", seq))
		bm25Path = filepath.Join(genDir, "keyword.bleve")
	}

	keyword, err := store.NewBleveBM25Index(bm25Path, store.DefaultBM25Config())
	if err != nil {
		return nil, genDir, kberrors.IngestionError("create keyword index", err)
	}

	vector, err := store.NewVectorStore(b.config.VectorBackend, store.DefaultVectorStoreConfig(b.config.Dimensions))
	if err != nil {
		_ = keyword.Close()
		return nil, genDir, kberrors.IngestionError("create vector store", err)
	}

	chunks := make(map[string]*chunk.Chunk)
	var docs []*store.Document
	var ids []string
	var texts []string

	for _, src := range b.sources {
		for pos, text := range b.chunker.Split(src.Text, src.ContentType) {
			c := &chunk.Chunk{
				ID:       chunk.ID(src.SourceID, text),
				SourceID: src.SourceID,
				Text:     text,
				Position: pos,
				Metadata: src.Metadata,
			}
			if _, dup := chunks[c.ID]; dup {
				continue // identical text within the same source
			}
			chunks[c.ID] = c
			docs = append(docs, &store.Document{ID: c.ID, Text: c.Text})
			ids = append(ids, c.ID)
			texts = append(texts, c.Text)
		}
	}

	if err := keyword.Index(ctx, docs); err != nil {
		b.closePair(keyword, vector)
		return nil, genDir, kberrors.IngestionError("index keyword documents", err)
	}

	for i := 0; i < len(texts); i += b.config.EmbedBatchSize {
		end := i + b.config.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.embedder.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			b.closePair(keyword, vector)
			return nil, genDir, kberrors.EmbeddingError("embed chunk batch", err)
		}
		if err := vector.Add(ctx, ids[i:end], vecs); err != nil {
			b.closePair(keyword, vector)
			return nil, genDir, kberrors.IngestionError("add vectors", err)
		}
	}

	if genDir != "" {
		if err := vector.Save(filepath.Join(genDir, "vectors.idx")); err != nil {
			b.closePair(keyword, vector)
			return nil, genDir, kberrors.IngestionError("persist vector index", err)
		}
	}

	return &search.Generation{
		Seq:     seq,
		BuiltAt: time.Now(),
		Keyword: keyword,
		Vector:  vector,
		Chunks:  chunks,
	}, genDir, nil
}

func (b *Builder) closePair(keyword store.BM25Index, vector store.VectorStore) {
	_ = keyword.Close()
	_ = vector.Close()
}

// retireGracePeriod covers the window between a query loading the old
// generation pointer and acquiring its reference.
const retireGracePeriod = 5 * time.Second

// retire tears down a superseded generation once the last in-flight
// reader releases it. Readers still holding a reference after the grace
// period keep the indexes open until they finish.
func (b *Builder) retire(old *search.Generation) {
	if old == nil {
		return
	}
	dataDir := b.config.DataDir
	time.AfterFunc(retireGracePeriod, func() {
		old.Retire(func() {
			b.closePair(old.Keyword, old.Vector)
			if dataDir != "" {
				_ = os.RemoveAll(filepath.Join(dataDir, fmt.Sprintf("gen-%06d", old.Seq)))
			}
		})
	})
}
