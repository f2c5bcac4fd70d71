package models

import "fmt"

// Query represents a semantic search request against one collection.
type Query struct {
	Text string `json:"text"`
	// Branch scopes visibility; empty means the collection's current branch.
	Branch string `json:"branch,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	// IncludeAncestors folds branches merged into Branch into the visible
	// set. Off by default: a query sees only the branch it is scoped to.
	IncludeAncestors bool `json:"include_ancestors,omitempty"`
	// Languages restricts hits to the given language tags.
	Languages []string `json:"languages,omitempty"`
	// IncludeGlobs and ExcludeGlobs filter hit paths with doublestar patterns.
	IncludeGlobs []string `json:"include_globs,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
	MinScore     float64  `json:"min_score,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the query text is empty; otherwise normalizes the limit.
func (q *Query) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
