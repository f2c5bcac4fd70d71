package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/topology"
)

// ContentUnavailableError reports that the exact indexed bytes of a point can
// no longer be recovered from the live tree or from git history.
type ContentUnavailableError struct {
	Path      string
	ContentID string
}

func (e *ContentUnavailableError) Error() string {
	return fmt.Sprintf("content for %s (%s) is gone from the working tree and git history; reindex to refresh the collection",
		e.Path, e.ContentID)
}

// TextSource recovers chunk text for points that do not carry it inline.
// Resolution order: the live file if its bytes still match the indexed
// identity, then the git blob, then failure. The store itself never holds
// text for committed content.
type TextSource struct {
	root string
	topo topology.Analyzer
}

// NewTextSource builds a TextSource over the analyzer's tree.
func NewTextSource(topo topology.Analyzer) *TextSource {
	return &TextSource{root: topo.Root(), topo: topo}
}

// Text returns the chunk body for point.
func (ts *TextSource) Text(ctx context.Context, point *models.ContentPoint) (string, error) {
	if point.Text != "" {
		return point.Text, nil
	}

	live, err := os.ReadFile(filepath.Join(ts.root, filepath.FromSlash(point.Path)))
	if err == nil && models.MatchesIdentity(live, point.ContentID) && point.EndByte <= len(live) {
		return string(live[point.StartByte:point.EndByte]), nil
	}

	if models.IsBlobIdentity(point.ContentID) {
		blob, err := ts.topo.ReadBlob(ctx, models.BlobSHA(point.ContentID))
		if err == nil && point.EndByte <= len(blob) {
			return string(blob[point.StartByte:point.EndByte]), nil
		}
	}

	return "", &ContentUnavailableError{Path: point.Path, ContentID: point.ContentID}
}
