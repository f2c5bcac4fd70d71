package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
index:
  dir: "index-data"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Index.Dir != "index-data" {
		t.Errorf("index dir = %s, want index-data", cfg.Index.Dir)
	}
	if cfg.Embedding.Dimensions == 0 {
		t.Error("embedding dimensions should be defaulted")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoadOrDefault_missingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.Dir != ".shirabe" {
		t.Errorf("default index dir: got %s", cfg.Index.Dir)
	}
}

func TestLoadOrDefault_readsRootFile(t *testing.T) {
	dir := t.TempDir()
	content := `
index:
  oversample: 8
`
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.Oversample != 8 {
		t.Errorf("oversample = %d, want 8", cfg.Index.Oversample)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Index.ChunkBytes != 2048 {
		t.Errorf("default chunk_bytes: got %d", cfg.Index.ChunkBytes)
	}
	if cfg.Index.Oversample != 4 {
		t.Errorf("default oversample: got %d", cfg.Index.Oversample)
	}
	if cfg.ANN.M != 16 || cfg.ANN.EfConstruction != 200 || cfg.ANN.EfSearch != 64 {
		t.Errorf("default ann params: %+v", cfg.ANN)
	}
	if cfg.ANN.RebuildDeletedRatio != 0.25 {
		t.Errorf("default rebuild_deleted_ratio: got %f", cfg.ANN.RebuildDeletedRatio)
	}
	if cfg.Index.Extensions == nil {
		t.Error("index extensions should be set by default")
	}
	if cfg.Index.Extensions[0] != ".go" {
		t.Errorf("index extensions: got %v", cfg.Index.Extensions)
	}
	if cfg.Embedding.Model == "" || cfg.Embedding.BaseURL == "" {
		t.Errorf("embedding defaults missing: %+v", cfg.Embedding)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9090},
		Index:  IndexConfig{Dir: "/tmp/idx"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Index.Dir != "/tmp/idx" {
		t.Errorf("loaded index dir: got %s", loaded.Index.Dir)
	}
}
