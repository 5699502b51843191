package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/beatframe")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RUNPOD_API_KEY", "rp-test")
	t.Setenv("SUPABASE_URL", "https://x.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VideoProvider != VideoProviderRunPod || cfg.SceneDelay != time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.StoryboardTTL != time.Hour || cfg.VideoTTL != 48*time.Hour {
		t.Errorf("unexpected TTL defaults: %v %v", cfg.StoryboardTTL, cfg.VideoTTL)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Errorf("unexpected upload limit %d", cfg.MaxUploadBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SCENE_DELAY", "250ms")
	t.Setenv("CACHE_TTL_IMAGES", "3600")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("MAX_CONCURRENT_JOBS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SceneDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms scene delay, got %v", cfg.SceneDelay)
	}
	if cfg.ImageTTL != time.Hour {
		t.Errorf("expected plain seconds to parse, got %v", cfg.ImageTTL)
	}
	if cfg.WorkerEnabled {
		t.Error("expected worker disabled")
	}
	if cfg.MaxConcurrentJobs != 2 {
		t.Errorf("expected fallback on bad int, got %d", cfg.MaxConcurrentJobs)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DatabaseURL:        "postgres://x",
			OpenAIKey:          "k",
			RunPodAPIKey:       "k",
			SupabaseURL:        "https://x",
			SupabaseServiceKey: "k",
			VideoProvider:      VideoProviderRunPod,
			DefaultSensitivity: 1,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing runpod", func(c *Config) { c.RunPodAPIKey = "" }, "RUNPOD_API_KEY"},
		{"veo without gemini", func(c *Config) { c.VideoProvider = VideoProviderVeo }, "GEMINI_API_KEY"},
		{"unknown provider", func(c *Config) { c.VideoProvider = "sora" }, "VIDEO_PROVIDER"},
		{"sensitivity range", func(c *Config) { c.DefaultSensitivity = 3 }, "DEFAULT_SENSITIVITY"},
	}

	for _, tc := range cases {
		c := base()
		tc.mutate(&c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error mentioning %s, got %v", tc.name, tc.want, err)
		}
	}

	ok := base()
	ok.VideoProvider = VideoProviderVeo
	ok.GeminiKey = "g"
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
