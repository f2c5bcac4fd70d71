package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/collection"
	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/engine"
	"github.com/hyperjump/shirabe/internal/models"
)

const handlerBody = "def handle_request(req):\n    return respond(req)\n"

func testConfig(keyword bool) *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Mock = true
	cfg.Embedding.Dimensions = 32
	cfg.Index.Extensions = []string{".py"}
	cfg.Lexical.Enabled = keyword
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newTestServer opens a collection over a one-file tree, indexes it, and
// wraps it in a server. The collection is returned for tests that reach
// into the underlying state.
func newTestServer(t *testing.T, keyword bool) (*Server, *collection.Collection, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "handler.py", handlerBody)
	cfg := testConfig(keyword)
	coll, err := collection.Open(context.Background(), root, cfg, collection.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = coll.Close() })
	if _, err := coll.Engine().Index(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(coll.Engine(), coll.Executor(), &cfg.Server, zap.NewNop())
	return srv, coll, root
}

func TestHandleQuery(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]string{"text": handlerBody})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.handleQuery(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.QueryResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) == 0 {
		t.Fatal("expected at least one result")
	}
	top := out.Results[0]
	if top.Point.Path != "handler.py" {
		t.Errorf("top path: got %q, want handler.py", top.Point.Path)
	}
	if top.Text != handlerBody {
		t.Errorf("text: got %q", top.Text)
	}
}

func TestHandleQuery_InvalidBody(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.handleQuery(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleQuery_EmptyText(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]string{"mode": "semantic"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleQuery(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleQuery_UnknownMode(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]string{"text": "anything", "mode": "hybrid"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleQuery(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleQuery_Keyword(t *testing.T) {
	srv, _, _ := newTestServer(t, true)

	body, _ := json.Marshal(map[string]string{"text": "respond", "mode": "keyword"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleQuery(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.QueryResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) == 0 || out.Results[0].Point.Path != "handler.py" {
		t.Fatalf("results: %+v", out.Results)
	}
}

func TestHandleQuery_KeywordNotEnabled(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]string{"text": "respond", "mode": "keyword"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleQuery(w, r)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleIndex(t *testing.T) {
	srv, _, root := newTestServer(t, false)
	writeFile(t, root, "extra.py", "def extra():\n    return 'a new file to pick up'\n")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/index", nil)
	w := httptest.NewRecorder()
	srv.handleIndex(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var stats models.IndexingStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.FilesEmbedded != 1 {
		t.Errorf("files embedded: got %d, want 1", stats.FilesEmbedded)
	}
	if stats.FilesReused != 1 {
		t.Errorf("files reused: got %d, want 1", stats.FilesReused)
	}
}

func TestHandleIndex_Busy(t *testing.T) {
	srv, coll, _ := newTestServer(t, false)

	// Holding the collection lock stands in for a writer in another process.
	fl := flock.New(filepath.Join(coll.Dir(), engine.LockFileName))
	locked, err := fl.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not take collection lock: locked=%v err=%v", locked, err)
	}
	defer fl.Unlock()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/index", nil)
	w := httptest.NewRecorder()
	srv.handleIndex(w, r)
	if w.Code != http.StatusConflict {
		t.Errorf("status: got %d, want 409", w.Code)
	}
}

func TestHandleRebuild_Force(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	body, _ := json.Marshal(map[string]bool{"force": true})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/rebuild", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleRebuild(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var stats models.RebuildStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Points < 1 {
		t.Errorf("points: got %d, want >= 1", stats.Points)
	}
	if stats.Reason != "rebuild requested" {
		t.Errorf("reason: got %q", stats.Reason)
	}
}

func TestHandleRebuild_EmptyBody(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/rebuild", nil)
	w := httptest.NewRecorder()
	srv.handleRebuild(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var stats models.RebuildStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Reason != "catch-up" {
		t.Errorf("reason: got %q", stats.Reason)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.CollectionStatus
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Mode != "plain" {
		t.Errorf("mode: got %q, want plain", out.Mode)
	}
	if out.Points < 1 {
		t.Errorf("points: got %d, want >= 1", out.Points)
	}
	if out.DiskBytes < 1 {
		t.Errorf("disk bytes: got %d, want >= 1", out.DiskBytes)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" {
		t.Errorf("body: got %v", out)
	}
}
