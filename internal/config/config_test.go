package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.FramesBackend() != FramesBackendNative {
		t.Errorf("FramesBackend() = %q, want %q", cfg.FramesBackend(), FramesBackendNative)
	}
	if cfg.ProgressBackend() != ProgressBackendMemory {
		t.Errorf("ProgressBackend() = %q, want %q", cfg.ProgressBackend(), ProgressBackendMemory)
	}
	if cfg.MaxUploadBytes() != 500*1024*1024 {
		t.Errorf("MaxUploadBytes() = %d, want 500MB", cfg.MaxUploadBytes())
	}
	if cfg.Escalation() != DefaultEscalation() {
		t.Errorf("Escalation() = %+v, want defaults", cfg.Escalation())
	}
}

func TestNew_PortFromEnv(t *testing.T) {
	t.Setenv(EnvPort, "9100")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port() = %d, want 9100", cfg.Port())
	}
}

func TestNew_HostAndCORSOrigins(t *testing.T) {
	t.Setenv(EnvHost, "0.0.0.0")
	t.Setenv(EnvCORSOrigins, " https://ops.example.com/ ,, http://10.0.0.5:3000")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host() != "0.0.0.0" {
		t.Errorf("Host() = %q", cfg.Host())
	}
	got := cfg.CORSOrigins()
	if len(got) != 2 || got[0] != "https://ops.example.com" || got[1] != "http://10.0.0.5:3000" {
		t.Errorf("CORSOrigins() = %v", got)
	}
}

func TestNew_InvalidPort(t *testing.T) {
	for _, v := range []string{"abc", "0", "70000"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv(EnvPort, v)
			if _, err := New(); err == nil {
				t.Fatalf("expected error for %s=%q", EnvPort, v)
			}
		})
	}
}

func TestNew_DataDirPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.MediaDir() != filepath.Join(dir, "media", "videos") {
		t.Errorf("MediaDir() = %q", cfg.MediaDir())
	}
}

func TestNew_CoarseParamsFromEnv(t *testing.T) {
	t.Setenv(EnvLLMTargetFPS, "12")
	t.Setenv(EnvLLMWindowSec, "3")
	t.Setenv(EnvLLMFramesPerWindow, "6")
	t.Setenv(EnvLLMMaxHighlights, "4")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.Escalation().Coarse
	want := CoarseParams{TargetFPS: 12, WindowSec: 3, FramesPerWindow: 6, MaxHighlights: 4}
	if got != want {
		t.Errorf("Coarse = %+v, want %+v", got, want)
	}
}

func TestNew_RejectsNonPositiveWindow(t *testing.T) {
	t.Setenv(EnvLLMWindowSec, "0")
	if _, err := New(); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestNew_OpenAIBackendRequiresBaseURL(t *testing.T) {
	t.Setenv(EnvFramesBackend, "openai")
	if _, err := New(); err == nil {
		t.Fatal("expected error when openai backend has no base url")
	}

	t.Setenv(EnvOpenAIBaseURL, "http://vlm.local/v1")
	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FramesBackend() != FramesBackendOpenAI {
		t.Errorf("FramesBackend() = %q", cfg.FramesBackend())
	}
}

func TestNew_RedisBackendRequiresURL(t *testing.T) {
	t.Setenv(EnvProgressBackend, "redis")
	if _, err := New(); err == nil {
		t.Fatal("expected error when redis backend has no url")
	}
}

func TestNew_ProgressTTL(t *testing.T) {
	t.Setenv(EnvProgressTTL, "90s")
	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProgressTTL() != 90*time.Second {
		t.Errorf("ProgressTTL() = %v, want 90s", cfg.ProgressTTL())
	}

	t.Setenv(EnvProgressTTL, "-1s")
	if _, err := New(); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestNew_InvalidWorkers(t *testing.T) {
	t.Setenv(EnvWorkers, "0")
	if _, err := New(); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

func TestLoadEscalationFile_OverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escalation.yaml")
	content := `
refine:
  max_fps: 24
fallback:
  concurrency: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	esc, err := LoadEscalationFile(path, DefaultEscalation())
	if err != nil {
		t.Fatalf("LoadEscalationFile() error = %v", err)
	}
	if esc.Refine.MaxFPS != 24 {
		t.Errorf("Refine.MaxFPS = %d, want 24", esc.Refine.MaxFPS)
	}
	if esc.Fallback.Concurrency != 3 {
		t.Errorf("Fallback.Concurrency = %d, want 3", esc.Fallback.Concurrency)
	}
	if esc.Refine.MinWindowSec != 0.5 {
		t.Errorf("Refine.MinWindowSec = %v, want default 0.5", esc.Refine.MinWindowSec)
	}
	if esc.Coarse != DefaultEscalation().Coarse {
		t.Errorf("Coarse changed: %+v", esc.Coarse)
	}
}

func TestNew_EscalationFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escalation.yaml")
	if err := os.WriteFile(path, []byte("coarse:\n  target_fps: 8\n  window_sec: 2.5\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv(EnvEscalationFile, path)
	t.Setenv(EnvLLMTargetFPS, "15")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Escalation().Coarse.TargetFPS != 15 {
		t.Errorf("env should win over file, got fps %d", cfg.Escalation().Coarse.TargetFPS)
	}
	if cfg.Escalation().Coarse.WindowSec != 2.5 {
		t.Errorf("WindowSec = %v, want 2.5 from file", cfg.Escalation().Coarse.WindowSec)
	}
}

func TestLoadEscalationFile_Missing(t *testing.T) {
	if _, err := LoadEscalationFile(filepath.Join(t.TempDir(), "nope.yaml"), DefaultEscalation()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEscalation_Validate(t *testing.T) {
	bad := DefaultEscalation()
	bad.Fallback.JPEGQuality = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for jpeg quality 0")
	}
	if err := DefaultEscalation().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
