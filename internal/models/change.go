package models

// ChangeKind classifies how a file moved between two revisions.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeDeleted
	ChangeRenamed
)

// String returns the lowercase name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileChange is one changed path between the last indexed state and the
// current one. OldPath is set only for renames.
type FileChange struct {
	Kind    ChangeKind
	Path    string
	OldPath string
}

// Origin records which layer of the working tree a file version came from.
// Staged and unstaged versions are overrides: they belong to the branch they
// were captured on and never propagate to other branches.
type Origin string

const (
	OriginCommitted Origin = "committed"
	OriginStaged    Origin = "staged"
	OriginUnstaged  Origin = "unstaged"
)

// IndexedState is the last position a collection was indexed at.
type IndexedState struct {
	Branch string
	Commit string
}

// BranchChange summarizes what moved since the collection last indexed.
// When FullScan is set no usable diff base existed (first index, or a plain
// directory without history) and the whole tree must be walked, comparing
// content identities against the catalog.
type BranchChange struct {
	Branch     string
	Commit     string
	BaseCommit string
	FullScan   bool
	Files      []FileChange
	Staged     []string
	Unstaged   []string
	// Deleted lists paths removed from the working tree without being
	// committed or staged as deletions.
	Deleted []string
}
