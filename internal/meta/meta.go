// Package meta owns collection_meta.json: the generation counter, vector
// dimensionality, graph parameters, projection seed, and staleness flag of
// one collection. Every mutation is persisted immediately so the write path
// stays a single cheap flag flip.
package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileName is the metadata file inside a collection directory.
const FileName = "collection_meta.json"

// ErrIncompatible means the on-disk collection was created with different
// vector dimensions than the current configuration; only a full reindex into
// a fresh collection can reconcile them.
var ErrIncompatible = errors.New("collection parameters incompatible with configuration")

// Meta is the persisted state of one collection.
type Meta struct {
	CollectionID   string    `json:"collection_id"`
	Generation     uint64    `json:"generation"`
	Dimensions     int       `json:"dimensions"`
	M              int       `json:"ann_m"`
	EfConstruction int       `json:"ann_ef_construction"`
	EfSearch       int       `json:"ann_ef_search"`
	ProjectionSeed int64     `json:"projection_seed"`
	Stale          bool      `json:"stale"`
	Branch         string    `json:"last_branch,omitempty"`
	Commit         string    `json:"last_commit,omitempty"`
	LastIndexed    time.Time `json:"last_indexed,omitzero"`
	LastBuild      time.Time `json:"last_build,omitzero"`
}

// File is the live handle on a collection's metadata. All mutations go
// through Update, which persists before returning.
type File struct {
	path string

	mu   sync.Mutex
	meta Meta
}

// Params pins the collection-level knobs recorded at creation.
type Params struct {
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
}

// OpenOrCreate loads the metadata file at path, creating it with the given
// parameters when absent. Opening an existing collection with different
// dimensions fails with ErrIncompatible.
func OpenOrCreate(path string, params Params) (*File, error) {
	f := &File{path: path}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &f.meta); err != nil {
			return nil, fmt.Errorf("failed to decode collection metadata: %w", err)
		}
		if f.meta.Dimensions != params.Dimensions {
			return nil, fmt.Errorf("%w: collection has %d dimensions, config wants %d",
				ErrIncompatible, f.meta.Dimensions, params.Dimensions)
		}
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read collection metadata: %w", err)
	}

	f.meta = Meta{
		CollectionID:   uuid.New().String(),
		Dimensions:     params.Dimensions,
		M:              params.M,
		EfConstruction: params.EfConstruction,
		EfSearch:       params.EfSearch,
		ProjectionSeed: rand.Int63(),
	}
	if err := f.persistLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

// Snapshot returns a copy of the current state.
func (f *File) Snapshot() Meta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta
}

// Update applies mutate under the lock and persists the result.
func (f *File) Update(mutate func(*Meta)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.meta)
	return f.persistLocked()
}

// MarkStale flags the approximate index as behind the store. No-op writes
// are skipped so repeated indexing stays cheap.
func (f *File) MarkStale() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meta.Stale {
		return nil
	}
	f.meta.Stale = true
	return f.persistLocked()
}

func (f *File) persistLocked() error {
	data, err := json.MarshalIndent(&f.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection metadata: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write collection metadata: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit collection metadata: %w", err)
	}
	return nil
}
