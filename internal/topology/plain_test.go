package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/shirabe/internal/models"
)

func TestPlainAnalyzer(t *testing.T) {
	ctx := context.Background()
	p := NewPlainAnalyzer(t.TempDir())

	if p.Kind() != KindPlain {
		t.Errorf("kind = %s", p.Kind())
	}
	branch, err := p.CurrentBranch(ctx)
	if err != nil || branch != PlainBranch {
		t.Errorf("branch = %s, err = %v", branch, err)
	}
	head, err := p.HeadCommit(ctx)
	if err != nil || head != "" {
		t.Errorf("head = %q, err = %v", head, err)
	}
	branches, err := p.Branches(ctx)
	if err != nil || len(branches) != 1 || branches[0] != PlainBranch {
		t.Errorf("branches = %v, err = %v", branches, err)
	}
	ancestors, err := p.AncestorBranches(ctx, PlainBranch)
	if err != nil || len(ancestors) != 0 {
		t.Errorf("ancestors = %v, err = %v", ancestors, err)
	}
	st, err := p.Status(ctx)
	if err != nil || !st.Empty() {
		t.Errorf("status = %+v, err = %v", st, err)
	}

	if _, err := p.DiffFiles(ctx, "a", "b"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("DiffFiles err = %v, want ErrUnavailable", err)
	}
	if _, err := p.ReadBlob(ctx, "abc"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ReadBlob err = %v, want ErrUnavailable", err)
	}
	if _, err := p.StagedBytes(ctx, "f.py"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("StagedBytes err = %v, want ErrUnavailable", err)
	}
}

func TestParseNameStatus(t *testing.T) {
	raw := []byte("M\x00b.py\x00A\x00c.py\x00D\x00a.py\x00R100\x00old.py\x00new.py\x00")
	changes, err := parseNameStatus(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.FileChange{
		{Kind: models.ChangeModified, Path: "b.py"},
		{Kind: models.ChangeAdded, Path: "c.py"},
		{Kind: models.ChangeDeleted, Path: "a.py"},
		{Kind: models.ChangeRenamed, Path: "new.py", OldPath: "old.py"},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d changes, want %d", len(changes), len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, changes[i], want[i])
		}
	}
}

func TestParseNameStatus_truncated(t *testing.T) {
	if _, err := parseNameStatus([]byte("R100\x00old.py\x00")); err == nil {
		t.Error("expected error for truncated rename record")
	}
}

func TestParsePorcelain(t *testing.T) {
	raw := []byte(" M unstaged.py\x00M  staged.py\x00MM both.py\x00?? untracked.py\x00 D gone.py\x00")
	st := parsePorcelain(raw)

	if !contains(st.Unstaged, "unstaged.py") || !contains(st.Unstaged, "untracked.py") {
		t.Errorf("unstaged = %v", st.Unstaged)
	}
	if !contains(st.Staged, "staged.py") || !contains(st.Staged, "both.py") {
		t.Errorf("staged = %v", st.Staged)
	}
	if !contains(st.Unstaged, "both.py") {
		t.Errorf("partially staged path should be in both lists: %v", st.Unstaged)
	}
	if !contains(st.Deleted, "gone.py") {
		t.Errorf("deleted = %v", st.Deleted)
	}
}
