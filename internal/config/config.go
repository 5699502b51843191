package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	VideoProviderRunPod = "runpod"
	VideoProviderVeo    = "veo"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	MaxUploadBytes     int64  // Largest accepted audio upload

	// Database
	DatabaseURL string

	// Redis (empty = in-process cache and queue, single instance only)
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// OpenAI (used for scene prompt authoring)
	OpenAIKey   string
	VisualTheme string

	// RunPod (image, edit and default video renderer)
	RunPodAPIKey        string
	RunPodBaseURL       string
	RunPodImageEndpoint string
	RunPodVideoEndpoint string
	RunPodEditEndpoint  string

	// Video provider: runpod or veo
	VideoProvider string

	// Gemini / Veo (only when VIDEO_PROVIDER=veo)
	GeminiKey string
	VeoModel  string

	// Generation
	SceneDelay         time.Duration // Pause between scenes that hit the provider
	DefaultSensitivity float64
	ImageStyle         string // Overrides the prefix added to every image prompt

	// Cache TTLs
	StoryboardTTL time.Duration
	ImageTTL      time.Duration
	OriginalTTL   time.Duration
	VideoTTL      time.Duration
	StitchedTTL   time.Duration

	// Worker
	MaxConcurrentJobs   int
	DownloadConcurrency int
	FFmpegTempDir       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "beatframe"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		VisualTheme:           getEnv("VISUAL_THEME", ""),
		RunPodAPIKey:          getEnv("RUNPOD_API_KEY", ""),
		RunPodBaseURL:         getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"),
		RunPodImageEndpoint:   getEnv("RUNPOD_IMAGE_ENDPOINT", "seedream-v4-t2i"),
		RunPodVideoEndpoint:   getEnv("RUNPOD_VIDEO_ENDPOINT", "wan-2-5"),
		RunPodEditEndpoint:    getEnv("RUNPOD_EDIT_ENDPOINT", "seedream-v4-edit"),
		VideoProvider:         getEnv("VIDEO_PROVIDER", VideoProviderRunPod),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		VeoModel:              getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		SceneDelay:            getEnvDuration("SCENE_DELAY", time.Second),
		DefaultSensitivity:    getEnvFloat("DEFAULT_SENSITIVITY", 1.0),
		ImageStyle:            getEnv("IMAGE_STYLE", ""),
		StoryboardTTL:         getEnvDuration("CACHE_TTL_STORYBOARD", time.Hour),
		ImageTTL:              getEnvDuration("CACHE_TTL_IMAGES", 24*time.Hour),
		OriginalTTL:           getEnvDuration("CACHE_TTL_ORIGINALS", 24*time.Hour),
		VideoTTL:              getEnvDuration("CACHE_TTL_VIDEOS", 48*time.Hour),
		StitchedTTL:           getEnvDuration("CACHE_TTL_STITCHED", 48*time.Hour),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
		DownloadConcurrency:   getEnvInt("DOWNLOAD_CONCURRENCY", 4),
		FFmpegTempDir:         getEnv("FFMPEG_TEMP_DIR", "/tmp/beatframe"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	if c.RunPodAPIKey == "" {
		return fmt.Errorf("RUNPOD_API_KEY is required")
	}

	switch c.VideoProvider {
	case VideoProviderRunPod:
	case VideoProviderVeo:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when VIDEO_PROVIDER=veo")
		}
	default:
		return fmt.Errorf("VIDEO_PROVIDER must be %q or %q, got %q", VideoProviderRunPod, VideoProviderVeo, c.VideoProvider)
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if c.DefaultSensitivity < 0 || c.DefaultSensitivity > 2 {
		return fmt.Errorf("DEFAULT_SENSITIVITY must be within [0, 2]")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "2h") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
