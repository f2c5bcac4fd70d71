package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/collection"
	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/models"
)

const e2eLimit = 10

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func e2eConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Mock = true
	cfg.Embedding.Dimensions = 48
	cfg.Index.Extensions = []string{".py"}
	cfg.Lexical.Enabled = true
	return cfg
}

// corpusRepo writes the corpus into a fresh git repository and commits it.
func corpusRepo(t *testing.T, corpus *Corpus) string {
	t.Helper()
	root := t.TempDir()
	gitRun(t, root, "init")
	gitRun(t, root, "checkout", "-b", "main")
	if err := corpus.WriteTree(root); err != nil {
		t.Fatal(err)
	}
	gitRun(t, root, "add", "-A")
	gitRun(t, root, "commit", "-m", "corpus")
	return root
}

func openIndexed(t *testing.T, root string, wantFiles int) *collection.Collection {
	t.Helper()
	coll, err := collection.Open(context.Background(), root, e2eConfig(), collection.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { coll.Close() })
	stats, err := coll.Engine().Index(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesEmbedded != wantFiles {
		t.Fatalf("expected %d files embedded, got %d", wantFiles, stats.FilesEmbedded)
	}
	return coll
}

func TestE2E_SemanticCorpus(t *testing.T) {
	requireGit(t)
	corpus := BuildCorpus()
	root := corpusRepo(t, corpus)
	coll := openIndexed(t, root, len(corpus.Files))
	ctx := context.Background()

	for _, tc := range corpus.Exact {
		t.Run(tc.Description, func(t *testing.T) {
			resp, err := coll.Executor().Search(ctx, &models.Query{Text: tc.Query, Limit: e2eLimit})
			if err != nil {
				t.Fatal(err)
			}
			if len(resp.Results) == 0 {
				t.Fatal("no results")
			}
			if got := resp.Results[0].Point.Path; got != tc.WantPath {
				t.Errorf("top result %q, want %q", got, tc.WantPath)
			}
		})
	}
}

func TestE2E_KeywordCorpus(t *testing.T) {
	requireGit(t)
	corpus := BuildCorpus()
	root := corpusRepo(t, corpus)
	coll := openIndexed(t, root, len(corpus.Files))
	ctx := context.Background()

	for _, tc := range corpus.Tokens {
		t.Run(tc.Description, func(t *testing.T) {
			resp, err := coll.Executor().Keyword(ctx, &models.Query{Text: tc.Query, Limit: e2eLimit})
			if err != nil {
				t.Fatal(err)
			}
			for _, r := range resp.Results {
				if r.Point.Path == tc.WantPath {
					return
				}
			}
			t.Errorf("path %q not in keyword results for %q", tc.WantPath, tc.Query)
		})
	}
}

// Editing one corpus file must cost one re-embed, and both the edited body
// and an untouched neighbor must stay findable.
func TestE2E_IncrementalAfterEdit(t *testing.T) {
	requireGit(t)
	corpus := BuildCorpus()
	root := corpusRepo(t, corpus)
	coll := openIndexed(t, root, len(corpus.Files))
	ctx := context.Background()

	edited := corpus.Files[0]
	body2 := edited.Body + "\n# tuned for large payloads\n"
	abs := filepath.Join(root, filepath.FromSlash(edited.Path))
	if err := os.WriteFile(abs, []byte(body2), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, root, "add", "-A")
	gitRun(t, root, "commit", "-m", "tune first corpus file")

	stats, err := coll.Engine().Index(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FullScan {
		t.Error("expected an incremental run, got a full scan")
	}
	if stats.FilesEmbedded != 1 {
		t.Errorf("expected 1 file embedded, got %d", stats.FilesEmbedded)
	}

	resp, err := coll.Executor().Search(ctx, &models.Query{Text: body2, Limit: e2eLimit})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Point.Path != edited.Path {
		t.Errorf("edited body not findable at %s", edited.Path)
	}

	neighbor := corpus.Files[1]
	resp, err = coll.Executor().Search(ctx, &models.Query{Text: neighbor.Body, Limit: e2eLimit})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Point.Path != neighbor.Path {
		t.Errorf("untouched neighbor %s lost after the edit", neighbor.Path)
	}
}
