package models

import "time"

// IndexingStats reports what one indexing run did. File counters track the
// per-file decision (embed, reuse, relabel, hide); point counters track the
// resulting store and catalog writes.
type IndexingStats struct {
	RunID          string   `json:"run_id"`
	Branch         string   `json:"branch"`
	Commit         string   `json:"commit,omitempty"`
	FullScan       bool     `json:"full_scan,omitempty"`
	FilesSeen      int      `json:"files_seen"`
	FilesEmbedded  int      `json:"files_embedded"`
	FilesReused    int      `json:"files_reused"`
	FilesRelabeled int      `json:"files_relabeled"`
	FilesHidden    int      `json:"files_hidden"`
	FilesFailed    []string `json:"files_failed,omitempty"`
	PointsCreated  int      `json:"points_created"`
	PointsHidden   int      `json:"points_hidden"`
	Duration       int64    `json:"duration_ms"`
}

// NoOp reports whether the run changed anything. Reused files are skips, not
// changes, so a rescan of an unchanged tree still counts as a no-op.
func (s *IndexingStats) NoOp() bool {
	return s.FilesEmbedded == 0 && s.FilesRelabeled == 0 &&
		s.FilesHidden == 0 && len(s.FilesFailed) == 0
}

// RebuildStats reports the outcome of a full graph rebuild.
type RebuildStats struct {
	Generation uint64 `json:"generation"`
	Points     int    `json:"points"`
	Reason     string `json:"reason"`
	Duration   int64  `json:"duration_ms"`
}

// CollectionStatus is a point-in-time snapshot of one collection.
type CollectionStatus struct {
	CollectionID  string    `json:"collection_id"`
	Mode          string    `json:"mode"`
	Branch        string    `json:"branch"`
	Commit        string    `json:"commit,omitempty"`
	Generation    uint64    `json:"generation"`
	Stale         bool      `json:"stale"`
	Points        int       `json:"points"`
	DeletedLabels int       `json:"deleted_labels"`
	LastIndexed   time.Time `json:"last_indexed,omitzero"`
	LastBuild     time.Time `json:"last_build,omitzero"`
	DiskBytes     int64     `json:"disk_usage_bytes"`
}
