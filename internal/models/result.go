package models

// QueryResult represents a single search hit with its exact cosine score.
type QueryResult struct {
	Point *ContentPoint `json:"point"`
	Score float64       `json:"score"`
	Rank  int           `json:"rank"`
	// Text is the recovered chunk body. Empty with ContentUnavailable set when
	// neither the live file nor git history can reproduce the indexed bytes.
	Text               string `json:"text,omitempty"`
	ContentUnavailable bool   `json:"content_unavailable,omitempty"`
}

// QueryResponse is the response for a search request.
type QueryResponse struct {
	Results []*QueryResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
	// Branch is the branch the query was scoped to; Branches is the full
	// visible set it resolved to (branch plus ancestors when requested).
	Branch    string   `json:"branch"`
	Branches  []string `json:"branches"`
	QueryTime int64    `json:"query_time_ms"`
}
