// Package store persists content points as content-addressable record files.
// Each point lives at vectors/<q1>/<q2>/<q3>/<q4>/<id>.rec where the four
// directory components are quantized projections of the point's vector, so
// the location of a record is a pure function of its identity and embedding.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/models"
)

// ErrNotFound is returned when no record exists for a point.
var ErrNotFound = errors.New("record not found")

// Store is the durable source of truth for embedded points. Records are
// immutable JSON documents; the approximate index can always be rebuilt by
// walking them.
type Store struct {
	dir    string
	quant  *quantizer
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Without it the store is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates or opens the store rooted at dir. Seed and dims drive the
// quantized layout and must come from the collection's metadata; changing
// either orphans existing records.
func Open(dir string, seed int64, dims int, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	s := &Store{dir: dir, quant: newQuantizer(seed, dims)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) recordPath(id string, vector []float32) string {
	comps := s.quant.bucketPath(vector)
	parts := append([]string{s.dir}, comps...)
	return filepath.Join(append(parts, id+".rec")...)
}

// Put writes the record for point. Existing records are left untouched:
// a point's identity covers its content, so rewriting is never needed.
func (s *Store) Put(point *models.ContentPoint) error {
	path := s.recordPath(point.ID, point.Vector)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create record dir: %w", err)
	}
	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", point.ID, err)
	}
	// Write-then-rename keeps a cancelled run from leaving a torn record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", point.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit record %s: %w", point.ID, err)
	}
	return nil
}

// Get reads the record for id. The vector locates the record; it must be the
// same vector the point was stored with.
func (s *Store) Get(id string, vector []float32) (*models.ContentPoint, error) {
	data, err := os.ReadFile(s.recordPath(id, vector))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	var point models.ContentPoint
	if err := json.Unmarshal(data, &point); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return &point, nil
}

// Has reports whether a record exists for id at the location its vector implies.
func (s *Store) Has(id string, vector []float32) bool {
	_, err := os.Stat(s.recordPath(id, vector))
	return err == nil
}

// Delete removes the record for id. Missing records are not an error.
func (s *Store) Delete(id string, vector []float32) error {
	err := os.Remove(s.recordPath(id, vector))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// Walk visits every record in the store. Used for full index rebuilds.
func (s *Store) Walk(fn func(*models.ContentPoint) error) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rec") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read record %s: %w", path, err)
		}
		var point models.ContentPoint
		if err := json.Unmarshal(data, &point); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", path, err)
		}
		return fn(&point)
	})
}

// Count returns the number of records without decoding them.
func (s *Store) Count() (int, error) {
	n := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".rec") {
			n++
		}
		return nil
	})
	return n, err
}

// Verify re-derives the expected location of every record and returns the
// paths of records that fail to decode or sit in the wrong bucket.
func (s *Store) Verify() ([]string, error) {
	var bad []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rec") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var point models.ContentPoint
		if err := json.Unmarshal(data, &point); err != nil {
			bad = append(bad, path)
			return nil
		}
		if s.recordPath(point.ID, point.Vector) != path {
			bad = append(bad, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(bad) > 0 && s.logger != nil {
		s.logger.Warn("store verification found bad records", zap.Int("count", len(bad)))
	}
	return bad, nil
}
