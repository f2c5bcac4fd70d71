package chunk

import (
	"strings"
	"testing"
)

func TestChunker_SmallFileIsOneChunk(t *testing.T) {
	c := NewChunker(2048, 2)
	content := []byte("package main\n\nfunc main() {}\n")

	chunks := c.Split("cmd/main.go", content)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	ch := chunks[0]
	if ch.StartByte != 0 || ch.EndByte != len(content) {
		t.Errorf("byte range = [%d, %d), want [0, %d)", ch.StartByte, ch.EndByte, len(content))
	}
	if ch.StartLine != 1 || ch.EndLine != 3 {
		t.Errorf("line range = %d..%d, want 1..3", ch.StartLine, ch.EndLine)
	}
	if ch.Text != string(content) {
		t.Errorf("Text = %q, want full content", ch.Text)
	}
	if ch.Language != "go" {
		t.Errorf("Language = %q, want go", ch.Language)
	}
}

func TestChunker_RangesSliceBackIntoContent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("line with some padding so chunks stay small\n")
	}
	content := []byte(b.String())

	c := NewChunker(256, 2)
	chunks := c.Split("src/big.py", content)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		if got := string(content[ch.StartByte:ch.EndByte]); got != ch.Text {
			t.Errorf("chunk %d text does not match its byte range", i)
		}
		if ch.StartByte != 0 && content[ch.StartByte-1] != '\n' {
			t.Errorf("chunk %d starts mid-line at byte %d", i, ch.StartByte)
		}
		if content[ch.EndByte-1] != '\n' && ch.EndByte != len(content) {
			t.Errorf("chunk %d ends mid-line at byte %d", i, ch.EndByte)
		}
	}
	if chunks[0].StartByte != 0 {
		t.Error("first chunk does not start at byte 0")
	}
	if last := chunks[len(chunks)-1]; last.EndByte != len(content) {
		t.Error("last chunk does not reach end of content")
	}
}

func TestChunker_OverlapRepeatsLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("0123456789012345678901234567890123456789\n")
	}
	content := []byte(b.String())

	c := NewChunker(200, 2)
	chunks := c.Split("src/a.go", content)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		wantStart := chunks[i-1].EndLine - 2 + 1
		if chunks[i].StartLine != wantStart {
			t.Errorf("chunk %d StartLine = %d, want %d (2 lines of overlap)",
				i, chunks[i].StartLine, wantStart)
		}
	}
}

func TestChunker_LongLineStaysWhole(t *testing.T) {
	long := strings.Repeat("x", 5000)
	content := []byte("short\n" + long + "\nshort again\n")

	c := NewChunker(1024, 0)
	chunks := c.Split("data/min.js", content)
	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Text, long) {
			found = true
			if strings.Count(ch.Text, "\n") > 2 {
				t.Error("oversized line was merged with too many neighbors")
			}
		}
		if strings.Contains(ch.Text, "x") && !strings.Contains(ch.Text, long) {
			t.Error("long line was split across chunks")
		}
	}
	if !found {
		t.Fatal("long line missing from output")
	}
}

func TestChunker_SkipsBinaryAndEmpty(t *testing.T) {
	c := NewChunker(2048, 2)
	if got := c.Split("a.bin", []byte{0x7f, 0x00, 0x45, 0x4c}); got != nil {
		t.Errorf("binary content produced %d chunks, want none", len(got))
	}
	if got := c.Split("empty.go", nil); got != nil {
		t.Errorf("empty content produced %d chunks, want none", len(got))
	}
}

func TestChunker_NoTrailingNewline(t *testing.T) {
	content := []byte("a\nb")
	c := NewChunker(2048, 0)
	chunks := c.Split("f.go", content)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].EndByte != 3 || chunks[0].EndLine != 2 {
		t.Errorf("got end byte %d line %d, want 3 and 2", chunks[0].EndByte, chunks[0].EndLine)
	}
}

func TestLanguageForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"cmd/main.go", "go"},
		{"src/App.TSX", "typescript"},
		{"scripts/setup.sh", "shell"},
		{"README.md", "markdown"},
		{"Makefile", ""},
		{"vendor/lib.min.js", "javascript"},
	}
	for _, tt := range tests {
		if got := LanguageForPath(tt.path); got != tt.want {
			t.Errorf("LanguageForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
