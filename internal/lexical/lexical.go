// Package lexical maintains the keyword companion index over point text.
// Embeddings blur exact identifiers; a BM25 match over the same chunks keeps
// queries like "NewServerTLSConfig" sharp.
package lexical

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/shirabe/internal/models"
)

// Doc is the indexed view of one content point.
type Doc struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Hit is a single keyword match.
type Hit struct {
	ID    string
	Score float64
}

// Index wraps a bleve index keyed by point ID.
type Index struct {
	index bleve.Index
}

// NewIndex creates or opens the keyword index at path. The standard analyzer
// (lowercase + tokenize, no stemming) keeps identifier tokens intact, so a
// query for "handler" matches "handler" and not a stem.
func NewIndex(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open keyword index: %w", err)
		}
		return &Index{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("path", textField)
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &Index{index: index}, nil
}

// IndexPoints adds documents for points in one batch. Text arrives from the
// caller because blob-backed points do not carry it inline.
func (x *Index) IndexPoints(ctx context.Context, points []*models.ContentPoint, texts []string) error {
	if len(points) != len(texts) {
		return fmt.Errorf("points and texts length mismatch: %d vs %d", len(points), len(texts))
	}
	batch := x.index.NewBatch()
	for i, p := range points {
		if err := batch.Index(p.ID, Doc{Path: p.Path, Content: texts[i]}); err != nil {
			return fmt.Errorf("failed to batch point %s: %w", p.ID, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply keyword batch: %w", err)
	}
	return nil
}

// Search runs a match query over content and path. With pathBoost above 1
// the path score is weighted and merged additively with the content score,
// so a file whose name matches the query outranks an incidental mention.
func (x *Index) Search(ctx context.Context, query string, limit int, pathBoost float64) ([]Hit, error) {
	if pathBoost <= 1 {
		req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
		req.Size = limit
		res, err := x.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		out := make([]Hit, len(res.Hits))
		for i, hit := range res.Hits {
			out[i] = Hit{ID: hit.ID, Score: hit.Score}
		}
		return out, nil
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")
	contentReq := bleve.NewSearchRequest(contentQuery)
	contentReq.Size = reqSize

	pathQuery := bleve.NewMatchQuery(query)
	pathQuery.SetField("path")
	pathReq := bleve.NewSearchRequest(pathQuery)
	pathReq.Size = reqSize

	contentRes, err := x.index.SearchInContext(ctx, contentReq)
	if err != nil {
		return nil, fmt.Errorf("keyword content search failed: %w", err)
	}
	pathRes, err := x.index.SearchInContext(ctx, pathReq)
	if err != nil {
		return nil, fmt.Errorf("keyword path search failed: %w", err)
	}

	scores := make(map[string]float64)
	for _, hit := range contentRes.Hits {
		scores[hit.ID] += hit.Score
	}
	for _, hit := range pathRes.Hits {
		scores[hit.ID] += hit.Score * pathBoost
	}

	merged := make([]Hit, 0, len(scores))
	for id, score := range scores {
		merged = append(merged, Hit{ID: id, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// DeleteBatch removes pruned points in one batch.
func (x *Index) DeleteBatch(ctx context.Context, ids []string) error {
	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply keyword delete batch: %w", err)
	}
	return nil
}

// DocCount returns the number of indexed points.
func (x *Index) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the underlying bleve index.
func (x *Index) Close() error {
	return x.index.Close()
}
