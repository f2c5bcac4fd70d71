package ann

import (
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shirabe/pkg/utils"
)

func buildTestGraph(t *testing.T, count, dims int) *Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	g := NewGraph(8, 100, 50)
	for i := 0; i < count; i++ {
		v := make([]float32, dims)
		for d := range v {
			v[d] = rng.Float32()
		}
		utils.NormalizeL2(v)
		if err := g.Insert(uint32(i), v); err != nil {
			t.Fatalf("Insert(%d) error: %v", i, err)
		}
	}
	return g
}

func TestSaveLoadGraph_Roundtrip(t *testing.T) {
	const dims = 8
	g := buildTestGraph(t, 50, dims)
	g.SoftDelete(3)
	g.SoftDelete(17)

	path := filepath.Join(t.TempDir(), IndexFileName)
	if err := SaveGraph(path, g, 7); err != nil {
		t.Fatalf("SaveGraph() error: %v", err)
	}

	loaded, generation, err := LoadGraph(path, dims)
	if err != nil {
		t.Fatalf("LoadGraph() error: %v", err)
	}
	if generation != 7 {
		t.Errorf("generation = %d, want 7", generation)
	}
	if loaded.Len() != g.Len() {
		t.Errorf("Len() = %d, want %d", loaded.Len(), g.Len())
	}
	if loaded.Deleted() != 2 {
		t.Errorf("Deleted() = %d, want 2", loaded.Deleted())
	}

	query := g.Vector(7)
	wantHits := g.Search(query, 5)
	gotHits := loaded.Search(query, 5)
	if len(gotHits) != len(wantHits) {
		t.Fatalf("loaded graph returned %d hits, want %d", len(gotHits), len(wantHits))
	}
	for i := range wantHits {
		if gotHits[i].Label != wantHits[i].Label {
			t.Errorf("hit %d label = %d, want %d", i, gotHits[i].Label, wantHits[i].Label)
		}
	}
}

func TestSaveLoadGraph_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndexFileName)
	if err := SaveGraph(path, NewGraph(8, 100, 50), 1); err != nil {
		t.Fatalf("SaveGraph() error: %v", err)
	}
	loaded, generation, err := LoadGraph(path, 8)
	if err != nil {
		t.Fatalf("LoadGraph() error: %v", err)
	}
	if generation != 1 || loaded.Len() != 0 {
		t.Errorf("got generation %d, len %d, want 1, 0", generation, loaded.Len())
	}
}

func TestLoadGraph_Missing(t *testing.T) {
	_, _, err := LoadGraph(filepath.Join(t.TempDir(), IndexFileName), 8)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("LoadGraph() error = %v, want fs.ErrNotExist", err)
	}
}

func TestLoadGraph_Corrupted(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		prepare func(t *testing.T, path string)
	}{
		{
			name: "garbage",
			prepare: func(t *testing.T, path string) {
				os.WriteFile(path, []byte("not an index"), 0o644)
			},
		},
		{
			name: "truncated",
			prepare: func(t *testing.T, path string) {
				g := buildTestGraph(t, 20, 8)
				if err := SaveGraph(path, g, 1); err != nil {
					t.Fatalf("SaveGraph() error: %v", err)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					t.Fatalf("read index: %v", err)
				}
				os.WriteFile(path, data[:len(data)/2], 0o644)
			},
		},
		{
			name: "dimension mismatch",
			prepare: func(t *testing.T, path string) {
				g := buildTestGraph(t, 5, 16)
				if err := SaveGraph(path, g, 1); err != nil {
					t.Fatalf("SaveGraph() error: %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".bin")
			tt.prepare(t, path)
			_, _, err := LoadGraph(path, 8)
			if !errors.Is(err, ErrCorrupted) {
				t.Errorf("LoadGraph() error = %v, want ErrCorrupted", err)
			}
		})
	}
}
