// Package collection assembles the moving parts of one indexed tree: the
// topology analyzer, metadata, record store, catalog, approximate index,
// embedder, and the engine and executor on top. A process may hold any number
// of collections; they share nothing.
package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/ann"
	"github.com/hyperjump/shirabe/internal/catalog"
	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/engine"
	"github.com/hyperjump/shirabe/internal/lexical"
	"github.com/hyperjump/shirabe/internal/meta"
	"github.com/hyperjump/shirabe/internal/query"
	"github.com/hyperjump/shirabe/internal/store"
	"github.com/hyperjump/shirabe/internal/topology"
)

// Collection is one opened index over one tree.
type Collection struct {
	topo     topology.Analyzer
	meta     *meta.File
	store    *store.Store
	catalog  *catalog.Catalog
	graph    *ann.Index
	embedder embedding.Embedder
	lexical  *lexical.Index
	engine   *engine.Engine
	executor *query.Executor
	dir      string
}

type options struct {
	logger   *zap.Logger
	embedder embedding.Embedder
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEmbedder overrides the configured embedder. Tests use it to avoid
// standing up an embeddings endpoint.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// Open detects the tree's topology, opens or creates the collection directory
// under it, and wires every component. The returned collection owns its
// resources; Close releases them in reverse order.
func Open(ctx context.Context, root string, cfg *config.Config, opts ...Option) (*Collection, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	topo := topology.Detect(ctx, absRoot)

	dir := cfg.Index.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(topo.Root(), dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create collection dir %s: %w", dir, err)
	}

	metaFile, err := meta.OpenOrCreate(filepath.Join(dir, meta.FileName), meta.Params{
		Dimensions:     cfg.Embedding.Dimensions,
		M:              cfg.ANN.M,
		EfConstruction: cfg.ANN.EfConstruction,
		EfSearch:       cfg.ANN.EfSearch,
	})
	if err != nil {
		return nil, err
	}
	snap := metaFile.Snapshot()

	st, err := store.Open(filepath.Join(dir, "vectors"), snap.ProjectionSeed, snap.Dimensions,
		store.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	c := &Collection{topo: topo, meta: metaFile, store: st, dir: dir}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.catalog, err = catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		return nil, err
	}

	c.graph, err = ann.Open(dir, metaFile, st, ann.Tuning{
		CatchUpBudget:       cfg.ANN.CatchUpBudget,
		RebuildDeletedRatio: cfg.ANN.RebuildDeletedRatio,
	}, ann.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	c.embedder = o.embedder
	if c.embedder == nil {
		c.embedder, err = buildEmbedder(cfg, o.logger)
		if err != nil {
			return nil, err
		}
	}

	engineOpts := []engine.Option{engine.WithLogger(o.logger)}
	execOpts := []query.Option{query.WithLogger(o.logger)}
	if cfg.Lexical.Enabled {
		c.lexical, err = lexical.NewIndex(filepath.Join(dir, "keyword.bleve"))
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithLexical(c.lexical))
		execOpts = append(execOpts, query.WithLexical(c.lexical))
	}

	c.engine = engine.New(topo, st, c.catalog, c.graph, metaFile, c.embedder, cfg.Index, dir, engineOpts...)
	c.executor = query.New(topo, st, c.catalog, c.graph, c.embedder, cfg.Index, execOpts...)

	o.logger.Debug("collection opened",
		zap.String("root", topo.Root()),
		zap.String("dir", dir),
		zap.String("mode", string(topo.Kind())),
		zap.String("collection_id", snap.CollectionID))
	return c, nil
}

func buildEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	if cfg.Embedding.Mock {
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	}
	return embedding.NewClient(embedding.Options{
		BaseURL:      cfg.Embedding.BaseURL,
		APIKey:       os.Getenv(cfg.Embedding.APIKeyEnv),
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		BatchSize:    cfg.Embedding.BatchSize,
		MaxRetries:   cfg.Embedding.MaxRetries,
		RetryBackoff: time.Duration(cfg.Embedding.RetryBackoffMS) * time.Millisecond,
		CacheSize:    cfg.Embedding.CacheSize,
	}, logger)
}

// Engine returns the collection's single writer.
func (c *Collection) Engine() *engine.Engine { return c.engine }

// Executor returns the collection's query side.
func (c *Collection) Executor() *query.Executor { return c.executor }

// Topology returns the tree analyzer.
func (c *Collection) Topology() topology.Analyzer { return c.topo }

// Dir returns the collection directory.
func (c *Collection) Dir() string { return c.dir }

// Close releases everything Open acquired, in reverse order. Safe on a
// partially opened collection.
func (c *Collection) Close() error {
	var errs []error
	if c.lexical != nil {
		errs = append(errs, c.lexical.Close())
		c.lexical = nil
	}
	if c.graph != nil {
		errs = append(errs, c.graph.Close())
		c.graph = nil
	}
	if c.catalog != nil {
		errs = append(errs, c.catalog.Close())
		c.catalog = nil
	}
	if c.embedder != nil {
		errs = append(errs, c.embedder.Close())
		c.embedder = nil
	}
	return errors.Join(errs...)
}
