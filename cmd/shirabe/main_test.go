package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/shirabe/internal/cli"
)

func TestQueryArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"http retry backoff", "-limit", "5"},
			expected: []string{"-limit", "5", "http retry backoff"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "5", "http retry backoff"},
			expected: []string{"-limit", "5", "http retry backoff"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"http retry backoff"},
			expected: []string{"http retry backoff"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-keyword"},
			expected: []string{"-keyword", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queryArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("queryArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQueryText(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"backoff"}, "backoff"},
		{"multiple words", []string{"http", "retry"}, "http retry"},
		{"single quoted phrase", []string{"http retry"}, "http retry"},
		{"three words", []string{"connection", "pool", "size"}, "connection pool size"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
		{"one space", []string{" "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQueryText(tt.args)
			if got != tt.expected {
				t.Errorf("buildQueryText(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want []string
	}{
		{"empty", "", nil},
		{"one", "go", []string{"go"}},
		{"several", "go,python,ts", []string{"go", "python", "ts"}},
		{"spaces trimmed", " go , python ", []string{"go", "python"}},
		{"empty entries dropped", "go,,python,", []string{"go", "python"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCSV(tt.s)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitCSV(%q) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := parseFormat("text"); err != nil || f != cli.OutputText {
		t.Errorf("parseFormat(text) = %v, %v", f, err)
	}
	if f, err := parseFormat("json"); err != nil || f != cli.OutputJSON {
		t.Errorf("parseFormat(json) = %v, %v", f, err)
	}
	if _, err := parseFormat("yaml"); err == nil {
		t.Error("parseFormat(yaml) should fail")
	}
}

func TestInitializeComponents(t *testing.T) {
	root := t.TempDir()
	content := "embedding:\n  mock: true\n  dimensions: 32\n"
	if err := os.WriteFile(filepath.Join(root, ".shirabe.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	comp, err := initializeComponents(root, false)
	if err != nil {
		t.Fatal(err)
	}
	defer comp.Close()

	if !comp.cfg.Embedding.Mock || comp.cfg.Embedding.Dimensions != 32 {
		t.Errorf("config not loaded from root: %+v", comp.cfg.Embedding)
	}
	if comp.coll == nil {
		t.Fatal("collection not opened")
	}
	if _, err := os.Stat(filepath.Join(root, ".shirabe")); err != nil {
		t.Errorf("collection directory missing: %v", err)
	}
}

func TestInitializeComponents_DefaultsWithoutConfig(t *testing.T) {
	root := t.TempDir()
	comp, err := initializeComponents(root, false)
	if err != nil {
		t.Fatal(err)
	}
	defer comp.Close()
	if comp.cfg.Index.Dir != ".shirabe" {
		t.Errorf("index dir: got %q, want .shirabe", comp.cfg.Index.Dir)
	}
}
