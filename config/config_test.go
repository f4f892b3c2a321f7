package config

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", 7 * time.Second},
		{"go duration", "250ms", 250 * time.Millisecond},
		{"bare seconds", "30", 30 * time.Second},
		{"invalid", "soon", 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", 7*time.Second); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvIntAndBool(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	if got := getEnvInt("TEST_INT", 3); got != 12 {
		t.Errorf("getEnvInt = %d, want 12", got)
	}
	t.Setenv("TEST_INT", "twelve")
	if got := getEnvInt("TEST_INT", 3); got != 3 {
		t.Errorf("getEnvInt with bad value = %d, want default 3", got)
	}

	t.Setenv("TEST_BOOL", "false")
	if getEnvBool("TEST_BOOL", true) {
		t.Error("getEnvBool should read false")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !getEnvBool("TEST_BOOL", true) {
		t.Error("getEnvBool with bad value should fall back to the default")
	}
}

func TestLoadRendererConfig_Defaults(t *testing.T) {
	for _, key := range []string{"RENDER_BACKEND", "POOL_SIZE", "ACQUIRE_TIMEOUT", "RENDER_LOCK", "JOB_RETENTION", "JOB_PRUNE_INTERVAL", "POOL_STATS_LOG", "POOL_STATS_INTERVAL", "MAX_UPLOAD_MB", "FAKE_PAGE_COUNT"} {
		t.Setenv(key, "")
	}

	cfg := loadRendererConfig()
	if cfg.RenderBackend != "fitz" {
		t.Errorf("RenderBackend = %q, want fitz", cfg.RenderBackend)
	}
	if cfg.PoolSize != 0 {
		t.Errorf("PoolSize = %d, want 0 (auto)", cfg.PoolSize)
	}
	if cfg.AcquireTimeout != 10*time.Second {
		t.Errorf("AcquireTimeout = %v, want 10s", cfg.AcquireTimeout)
	}
	if cfg.RenderLock != "global" {
		t.Errorf("RenderLock = %q, want global", cfg.RenderLock)
	}
	if cfg.StatsInterval != 5*time.Minute {
		t.Errorf("StatsInterval = %v, want 5m", cfg.StatsInterval)
	}
	if cfg.FakePageCount != 1 {
		t.Errorf("FakePageCount = %d, want 1", cfg.FakePageCount)
	}
}

func TestLoadRendererConfig_Overrides(t *testing.T) {
	t.Setenv("RENDER_BACKEND", "PDFium")
	t.Setenv("POOL_SIZE", "-3")
	t.Setenv("ACQUIRE_TIMEOUT", "2s")
	t.Setenv("RENDER_LOCK", "Handle")
	t.Setenv("POOL_STATS_LOG", "false")
	t.Setenv("FAKE_PAGE_COUNT", "12")

	cfg := loadRendererConfig()
	if cfg.RenderBackend != "pdfium" {
		t.Errorf("RenderBackend = %q, want pdfium", cfg.RenderBackend)
	}
	if cfg.PoolSize != 0 {
		t.Errorf("Negative POOL_SIZE should mean auto, got %d", cfg.PoolSize)
	}
	if cfg.AcquireTimeout != 2*time.Second {
		t.Errorf("AcquireTimeout = %v, want 2s", cfg.AcquireTimeout)
	}
	if cfg.RenderLock != "handle" {
		t.Errorf("RenderLock = %q, want handle", cfg.RenderLock)
	}
	if cfg.StatsInterval != 0 {
		t.Errorf("StatsInterval = %v, want disabled", cfg.StatsInterval)
	}
	if cfg.FakePageCount != 12 {
		t.Errorf("FakePageCount = %d, want 12", cfg.FakePageCount)
	}
}
