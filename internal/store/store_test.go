package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/shirabe/internal/models"
)

func testPoint(id string, vector []float32) *models.ContentPoint {
	return &models.ContentPoint{
		ID:        id,
		Path:      "src/main.go",
		ContentID: "raw:deadbeef",
		StartByte: 0,
		EndByte:   10,
		StartLine: 1,
		EndLine:   2,
		Language:  "go",
		Text:      "0123456789",
		Vector:    vector,
		CreatedAt: time.Now().UTC(),
	}
}

func TestQuantizer_Deterministic(t *testing.T) {
	v := []float32{0.1, -0.4, 0.9, 0.2}
	a := newQuantizer(42, 4).bucketPath(v)
	b := newQuantizer(42, 4).bucketPath(v)
	if len(a) != pathDepth {
		t.Fatalf("expected %d components, got %d", pathDepth, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("component %d differs: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestQuantizer_ComponentsInRange(t *testing.T) {
	q := newQuantizer(7, 8)
	vectors := [][]float32{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{-5, 3, 0, 0, 2, -2, 1, 4},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}
	for _, v := range vectors {
		for _, comp := range q.bucketPath(v) {
			if len(comp) != 2 {
				t.Errorf("component %q not two hex chars", comp)
			}
			if comp > "0f" {
				t.Errorf("component %q out of bucket range", comp)
			}
		}
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	p := testPoint("abc123", []float32{0.1, 0.2, 0.3, 0.4})
	if err := s.Put(p); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(p.ID, p.Vector)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != p.ID || got.Path != p.Path || got.ContentID != p.ContentID {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Vector) != 4 || got.Vector[2] != 0.3 {
		t.Errorf("vector mismatch: %v", got.Vector)
	}
}

func TestStore_PutIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	p := testPoint("abc123", []float32{0.1, 0.2, 0.3, 0.4})
	if err := s.Put(p); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(p); err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s, err := Open(t.TempDir(), 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("nope", []float32{1, 2, 3, 4}); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := Open(t.TempDir(), 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	p := testPoint("abc123", []float32{0.1, 0.2, 0.3, 0.4})
	if err := s.Put(p); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(p.ID, p.Vector); err != nil {
		t.Fatal(err)
	}
	if s.Has(p.ID, p.Vector) {
		t.Error("record still present after delete")
	}
	// Deleting again is fine.
	if err := s.Delete(p.ID, p.Vector); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStore_Walk(t *testing.T) {
	s, err := Open(t.TempDir(), 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{}
	for i, v := range [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}} {
		p := testPoint(strings.Repeat("a", i+1), v)
		if err := s.Put(p); err != nil {
			t.Fatal(err)
		}
		want[p.ID] = true
	}
	seen := map[string]bool{}
	err = s.Walk(func(p *models.ContentPoint) error {
		seen[p.ID] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != len(want) {
		t.Errorf("walked %d records, want %d", len(seen), len(want))
	}
	for id := range want {
		if !seen[id] {
			t.Errorf("record %s not visited", id)
		}
	}
}

func TestStore_Verify(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	p := testPoint("abc123", []float32{0.5, -0.5, 0.25, 0})
	if err := s.Put(p); err != nil {
		t.Fatal(err)
	}

	bad, err := s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Fatalf("clean store reported bad records: %v", bad)
	}

	// Truncate the record so it no longer decodes.
	path := s.recordPath(p.ID, p.Vector)
	if err := os.WriteFile(path, []byte("{\"id\": tru"), 0644); err != nil {
		t.Fatal(err)
	}
	bad, err = s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 1 {
		t.Fatalf("expected 1 bad record, got %v", bad)
	}
}

func TestStore_VerifyMisplaced(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	p := testPoint("abc123", []float32{0.5, -0.5, 0.25, 0})
	if err := s.Put(p); err != nil {
		t.Fatal(err)
	}
	src := s.recordPath(p.ID, p.Vector)
	dst := filepath.Join(dir, "00", "00", "00", "00", p.ID+".rec")
	if dst == src {
		t.Skip("vector happens to bucket to the probe location")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(src, dst); err != nil {
		t.Fatal(err)
	}
	bad, err := s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 1 {
		t.Errorf("expected misplaced record to be reported, got %v", bad)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	n, err := DiskUsageBytes(dir, filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Errorf("disk usage = %d, want 100", n)
	}
}
