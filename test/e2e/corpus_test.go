package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readBack(root, rel string) (string, error) {
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	return string(b), err
}

func TestBuildCorpus_OneCasePerFile(t *testing.T) {
	c := BuildCorpus()
	if len(c.Files) == 0 {
		t.Fatal("corpus has no files")
	}
	if len(c.Exact) != len(c.Files) {
		t.Errorf("expected %d exact cases, got %d", len(c.Files), len(c.Exact))
	}
	if len(c.Tokens) != len(c.Files) {
		t.Errorf("expected %d token cases, got %d", len(c.Files), len(c.Tokens))
	}
}

func TestBuildCorpus_PathsUnique(t *testing.T) {
	c := BuildCorpus()
	seen := make(map[string]bool)
	for _, f := range c.Files {
		if seen[f.Path] {
			t.Errorf("duplicate path %q", f.Path)
		}
		seen[f.Path] = true
	}
}

// Every token case must have exactly one owning file, or keyword assertions
// lose their single right answer.
func TestBuildCorpus_TokensPinOneFile(t *testing.T) {
	c := BuildCorpus()
	for _, tc := range c.Tokens {
		owners := 0
		for _, f := range c.Files {
			if strings.Contains(f.Body, tc.Query) {
				owners++
			}
		}
		if owners != 1 {
			t.Errorf("token %q appears in %d files, want exactly 1", tc.Query, owners)
		}
	}
}

func TestBuildCorpus_ExactCasesMatchBodies(t *testing.T) {
	c := BuildCorpus()
	bodyByPath := make(map[string]string, len(c.Files))
	for _, f := range c.Files {
		bodyByPath[f.Path] = f.Body
	}
	for _, tc := range c.Exact {
		body, ok := bodyByPath[tc.WantPath]
		if !ok {
			t.Errorf("exact case %q wants unknown path %q", tc.Description, tc.WantPath)
			continue
		}
		if body != tc.Query {
			t.Errorf("exact case %q does not replay the body of %s", tc.Description, tc.WantPath)
		}
	}
}

func TestCorpus_WriteTree(t *testing.T) {
	c := BuildCorpus()
	root := t.TempDir()
	if err := c.WriteTree(root); err != nil {
		t.Fatal(err)
	}
	for _, f := range c.Files {
		if _, err := readBack(root, f.Path); err != nil {
			t.Errorf("missing corpus file %s: %v", f.Path, err)
		}
	}
}
