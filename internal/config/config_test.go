package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Segmenter.SegmentMS != 5000 || cfg.Segmenter.OverlapMS != 1000 {
		t.Fatalf("unexpected default segmenter geometry: %+v", cfg.Segmenter)
	}
	if cfg.Consolidator.Dedup.MaxWindow != 10 {
		t.Fatalf("expected dedup window 10, got %d", cfg.Consolidator.Dedup.MaxWindow)
	}
	if cfg.Consolidator.Dedup.MatchRatio != 0.8 {
		t.Fatalf("expected dedup match ratio 0.8, got %v", cfg.Consolidator.Dedup.MatchRatio)
	}
	if cfg.Consolidator.StabilityThresholdMS != 5000 {
		t.Fatalf("expected stability threshold 5000, got %d", cfg.Consolidator.StabilityThresholdMS)
	}
	if cfg.Recognizer.Mode != "mock" {
		t.Fatalf("expected mock recognizer default, got %q", cfg.Recognizer.Mode)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prattle.yaml")
	body := `
segmenter:
  segment_ms: 3000
  overlap_ms: 500
recognizer:
  mode: exec
  command: "whisper-cli --output-json"
output:
  newline: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Segmenter.SegmentMS != 3000 || cfg.Segmenter.OverlapMS != 500 {
		t.Fatalf("file values not applied: %+v", cfg.Segmenter)
	}
	if cfg.Recognizer.Mode != "exec" || cfg.Recognizer.Command == "" {
		t.Fatalf("recognizer values not applied: %+v", cfg.Recognizer)
	}
	if cfg.Output.Newline {
		t.Fatal("output.newline override not applied")
	}
	// Untouched fields keep their defaults.
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("default http port lost: %d", cfg.HTTP.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRATTLE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PRATTLE_BUS_USERNAME", "alice")
	t.Setenv("PRATTLE_BUS_PASSWORD", "secret")
	t.Setenv("PRATTLE_NODE_ID", "test-node")
	t.Setenv("PRATTLE_SEGMENTER_SEGMENT_MS", "2000")
	t.Setenv("PRATTLE_SEGMENTER_OVERLAP_MS", "250")
	t.Setenv("PRATTLE_CONSOLIDATOR_STABILITY_THRESHOLD_MS", "1200")
	t.Setenv("PRATTLE_CONSOLIDATOR_DEDUP_MATCH_RATIO", "0.9")
	t.Setenv("PRATTLE_STORE_PATH", "./tmp.db")
	t.Setenv("PRATTLE_STORE_RETENTION_MODE", "persistent")
	t.Setenv("PRATTLE_OUTPUT_INTERIM", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatal("expected credentials override")
	}
	if cfg.Node.ID != "test-node" {
		t.Fatal("expected node id override")
	}
	if cfg.Segmenter.SegmentMS != 2000 || cfg.Segmenter.OverlapMS != 250 {
		t.Fatalf("segmenter overrides not applied: %+v", cfg.Segmenter)
	}
	if cfg.Consolidator.StabilityThresholdMS != 1200 {
		t.Fatalf("stability threshold override not applied: %d", cfg.Consolidator.StabilityThresholdMS)
	}
	if cfg.Consolidator.Dedup.MatchRatio != 0.9 {
		t.Fatalf("match ratio override not applied: %v", cfg.Consolidator.Dedup.MatchRatio)
	}
	if cfg.Store.Path != "./tmp.db" || cfg.Store.RetentionMode != "persistent" {
		t.Fatalf("store overrides not applied: %+v", cfg.Store)
	}
	if !cfg.Output.Interim {
		t.Fatal("expected interim output override true")
	}
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	t.Setenv("PRATTLE_SEGMENTER_SEGMENT_MS", "1000")
	t.Setenv("PRATTLE_SEGMENTER_OVERLAP_MS", "1000")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when overlap equals segment length")
	}

	t.Setenv("PRATTLE_SEGMENTER_OVERLAP_MS", "1500")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when overlap exceeds segment length")
	}
}

func TestValidateRecognizerModes(t *testing.T) {
	t.Setenv("PRATTLE_RECOGNIZER_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}

	t.Setenv("PRATTLE_RECOGNIZER_MODE", "websocket")
	t.Setenv("PRATTLE_RECOGNIZER_URL", "ws://localhost:9090/listen")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for websocket mode with non-zero overlap")
	}

	t.Setenv("PRATTLE_SEGMENTER_OVERLAP_MS", "0")
	if _, err := Load(""); err != nil {
		t.Fatalf("websocket mode with zero overlap should validate: %v", err)
	}

	t.Setenv("PRATTLE_RECOGNIZER_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown recognizer mode")
	}
}

func TestValidateDedupBounds(t *testing.T) {
	t.Setenv("PRATTLE_CONSOLIDATOR_DEDUP_MATCH_RATIO", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for match ratio above 1")
	}
	t.Setenv("PRATTLE_CONSOLIDATOR_DEDUP_MATCH_RATIO", "0.8")
	t.Setenv("PRATTLE_CONSOLIDATOR_DEDUP_MAX_WINDOW", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero dedup window")
	}
}
