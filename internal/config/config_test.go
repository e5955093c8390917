package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RETRIEVAL_TOP_K", "")
	t.Setenv("RETRIEVAL_MIN_SCORE", "")
	t.Setenv("RETRIEVAL_RRF_K", "")
	t.Setenv("RETRIEVAL_MAX_VARIATIONS", "")
	t.Setenv("CHUNK_STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetrievalTopK != 5 {
		t.Fatalf("expected default top k 5, got %d", cfg.RetrievalTopK)
	}
	if cfg.RetrievalMinScore != 0.3 {
		t.Fatalf("expected default min score 0.3, got %v", cfg.RetrievalMinScore)
	}
	if cfg.RetrievalRRFK != 60 || cfg.RetrievalFusionRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d/%d", cfg.RetrievalRRFK, cfg.RetrievalFusionRRFK)
	}
	if cfg.RetrievalMaxVariations != 3 || cfg.RetrievalMaxVariationsCeiling != 5 {
		t.Fatalf("expected default variations 3/5, got %d/%d", cfg.RetrievalMaxVariations, cfg.RetrievalMaxVariationsCeiling)
	}
	if cfg.ChunkStoreBackend != "qdrant" {
		t.Fatalf("expected default backend qdrant, got %q", cfg.ChunkStoreBackend)
	}
}

func TestLoadParsesRetrievalOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RETRIEVAL_TOP_K", "8")
	t.Setenv("RETRIEVAL_MIN_SCORE", "0.45")
	t.Setenv("RETRIEVAL_RRF_K", "75")
	t.Setenv("CHUNK_STORE_BACKEND", "PGVECTOR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetrievalTopK != 8 {
		t.Fatalf("expected top k 8, got %d", cfg.RetrievalTopK)
	}
	if cfg.RetrievalMinScore != 0.45 {
		t.Fatalf("expected min score 0.45, got %v", cfg.RetrievalMinScore)
	}
	if cfg.RetrievalRRFK != 75 {
		t.Fatalf("expected rrf k 75, got %d", cfg.RetrievalRRFK)
	}
	if cfg.ChunkStoreBackend != "pgvector" {
		t.Fatalf("expected backend pgvector, got %q", cfg.ChunkStoreBackend)
	}
}

func TestLoadAppliesFileBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filings.yaml")
	content := "retrieval_top_k: 10\nretrieval_domain: quarterly reports\nqdrant_collection: chunks_v2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RETRIEVAL_TOP_K", "7")
	t.Setenv("RETRIEVAL_DOMAIN", "")
	t.Setenv("QDRANT_COLLECTION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetrievalTopK != 7 {
		t.Fatalf("expected env to win over file, got %d", cfg.RetrievalTopK)
	}
	if cfg.RetrievalDomain != "quarterly reports" || cfg.QdrantCollection != "chunks_v2" {
		t.Fatalf("expected file values applied, got domain=%q collection=%q", cfg.RetrievalDomain, cfg.QdrantCollection)
	}
	if cfg.RetrievalRRFK != 60 {
		t.Fatalf("expected defaults kept for keys absent from file, got %d", cfg.RetrievalRRFK)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHUNK_STORE_BACKEND", "sqlite")
	t.Setenv("RETRIEVAL_MIN_SCORE", "1.5")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "chunk_store_backend") || !strings.Contains(err.Error(), "retrieval_min_score") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestLoadReportsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("retrieval_top_k: [\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadTrimsAPIKey(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("API_KEY", "  s3cret \n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "s3cret" {
		t.Fatalf("expected trimmed api key, got %q", cfg.APIKey)
	}
}
