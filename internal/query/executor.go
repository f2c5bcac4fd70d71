// Package query answers search requests against one collection. The executor
// never writes: it reads the graph, the catalog, and the record store as they
// are, so searches stay available while an indexing run is underway.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shirabe/internal/ann"
	"github.com/hyperjump/shirabe/internal/catalog"
	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/lexical"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/store"
	"github.com/hyperjump/shirabe/internal/topology"
	"github.com/hyperjump/shirabe/pkg/utils"
)

// pathBoost weights filename matches above content matches in keyword search.
const pathBoost = 2.0

// ErrKeywordDisabled reports that the collection was opened without a
// keyword index, so Keyword has nothing to search.
var ErrKeywordDisabled = errors.New("keyword search is not enabled for this collection")

// Executor runs semantic and keyword searches scoped to branch visibility.
type Executor struct {
	topo     topology.Analyzer
	store    *store.Store
	catalog  *catalog.Catalog
	graph    *ann.Index
	embedder embedding.Embedder
	texts    *store.TextSource
	cfg      config.IndexConfig
	lexical  *lexical.Index
	logger   *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Without it the executor is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithLexical enables keyword search over the given index.
func WithLexical(ix *lexical.Index) Option {
	return func(e *Executor) { e.lexical = ix }
}

// New assembles an executor over an opened collection.
func New(
	topo topology.Analyzer,
	st *store.Store,
	cat *catalog.Catalog,
	graph *ann.Index,
	embedder embedding.Embedder,
	cfg config.IndexConfig,
	opts ...Option,
) *Executor {
	e := &Executor{
		topo:     topo,
		store:    st,
		catalog:  cat,
		graph:    graph,
		embedder: embedder,
		texts:    store.NewTextSource(topo),
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	point *models.ContentPoint
	score float64
}

// Search embeds the query text and returns the best visible chunks on the
// requested branch, re-scored with exact cosine similarity.
func (e *Executor) Search(ctx context.Context, q *models.Query) (*models.QueryResponse, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	branch, ancestors, err := e.scope(ctx, q)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, q.Text)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		queryVec = vec
		return nil
	})
	g.Go(func() error {
		return e.graph.EnsureReady(gctx)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	k := q.Limit * e.cfg.Oversample
	if k < q.Limit {
		k = q.Limit
	}
	hits, err := e.graph.Search(ctx, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("graph search failed: %w", err)
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	visible, err := e.catalog.FilterVisible(ctx, ids, branch, ancestors)
	if err != nil {
		return nil, fmt.Errorf("visibility filter failed: %w", err)
	}

	candidates := make([]candidate, 0, len(visible))
	for _, hit := range hits {
		if _, ok := visible[hit.ID]; !ok {
			continue
		}
		point, err := e.store.Get(hit.ID, hit.Vector)
		if err != nil {
			// The graph can run ahead of a prune; a missing record is stale
			// graph state, not a failed query.
			e.logger.Warn("graph hit without a store record",
				zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		if !e.admit(point, q) {
			continue
		}
		score := utils.Cosine(queryVec, point.Vector)
		if q.MinScore > 0 && score < q.MinScore {
			continue
		}
		candidates = append(candidates, candidate{point: point, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	total := len(candidates)
	if len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	resp := e.respond(ctx, q, branch, ancestors, candidates)
	resp.Total = total
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// Keyword runs a BM25 search over the lexical mirror with the same branch
// visibility as Search. Scores are corpus-relative, so MinScore is ignored.
func (e *Executor) Keyword(ctx context.Context, q *models.Query) (*models.QueryResponse, error) {
	start := time.Now()
	if e.lexical == nil {
		return nil, ErrKeywordDisabled
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	branch, ancestors, err := e.scope(ctx, q)
	if err != nil {
		return nil, err
	}

	k := q.Limit * e.cfg.Oversample
	if k < q.Limit {
		k = q.Limit
	}
	hits, err := e.lexical.Search(ctx, q.Text, k, pathBoost)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	visible, err := e.catalog.FilterVisible(ctx, ids, branch, ancestors)
	if err != nil {
		return nil, fmt.Errorf("visibility filter failed: %w", err)
	}
	points, err := e.catalog.PointsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load point metadata: %w", err)
	}
	byID := make(map[string]*models.ContentPoint, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}

	candidates := make([]candidate, 0, len(visible))
	for _, hit := range hits {
		if _, ok := visible[hit.ID]; !ok {
			continue
		}
		point, ok := byID[hit.ID]
		if !ok {
			continue
		}
		if !e.admit(point, q) {
			continue
		}
		candidates = append(candidates, candidate{point: point, score: hit.Score})
		if len(candidates) == q.Limit {
			break
		}
	}

	resp := e.respond(ctx, q, branch, ancestors, candidates)
	resp.Total = len(candidates)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// scope resolves the branch a query runs against and the ancestor branches
// folded into its visible set. Ancestor resolution is best effort: a detached
// HEAD has no branch to walk merges from, and a degraded answer beats none.
func (e *Executor) scope(ctx context.Context, q *models.Query) (string, []string, error) {
	branch := q.Branch
	if branch == "" {
		current, err := e.topo.CurrentBranch(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve current branch: %w", err)
		}
		branch = current
	}
	if !q.IncludeAncestors {
		return branch, nil, nil
	}
	ancestors, err := e.topo.AncestorBranches(ctx, branch)
	if err != nil {
		e.logger.Warn("ancestor branches unavailable, searching current branch only",
			zap.String("branch", branch), zap.Error(err))
		return branch, nil, nil
	}
	return branch, ancestors, nil
}

// admit applies the language and path filters to one point.
func (e *Executor) admit(point *models.ContentPoint, q *models.Query) bool {
	if len(q.Languages) > 0 {
		ok := false
		for _, lang := range q.Languages {
			if strings.EqualFold(lang, point.Language) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.IncludeGlobs) > 0 {
		ok := false
		for _, glob := range q.IncludeGlobs {
			if matched, err := doublestar.Match(glob, point.Path); err == nil && matched {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, glob := range q.ExcludeGlobs {
		if matched, err := doublestar.Match(glob, point.Path); err == nil && matched {
			return false
		}
	}
	return true
}

// respond recovers chunk text for the picked candidates and shapes the
// response. Text recovery failures mark the result instead of failing the
// query; the hit itself is still real.
func (e *Executor) respond(ctx context.Context, q *models.Query, branch string, ancestors []string, picked []candidate) *models.QueryResponse {
	results := make([]*models.QueryResult, 0, len(picked))
	for i, c := range picked {
		res := &models.QueryResult{
			Point: c.point,
			Score: c.score,
			Rank:  i + 1,
		}
		text, err := e.texts.Text(ctx, c.point)
		if err != nil {
			e.logger.Debug("chunk text unavailable",
				zap.String("path", c.point.Path),
				zap.String("content_id", c.point.ContentID))
			res.ContentUnavailable = true
		} else {
			res.Text = text
		}
		results = append(results, res)
	}
	return &models.QueryResponse{
		Results:  results,
		Query:    q.Text,
		Branch:   branch,
		Branches: append([]string{branch}, ancestors...),
	}
}
