package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/beatframe/internal/api"
	"github.com/bobarin/beatframe/internal/cache"
	"github.com/bobarin/beatframe/internal/config"
	"github.com/bobarin/beatframe/internal/db"
	"github.com/bobarin/beatframe/internal/jobs"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/pipeline"
	"github.com/bobarin/beatframe/internal/queue"
	"github.com/bobarin/beatframe/internal/services"
	"github.com/bobarin/beatframe/internal/storage"
	"github.com/bobarin/beatframe/internal/worker"
)

func main() {
	log.Println("Starting Beatframe API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	migrateCancel()
	log.Println("Connected to database")

	// Redis backs both the scene cache and the stitch queue. Without it
	// everything stays in-process, which only works for a single instance.
	var (
		broker queue.Broker
		store  cache.Store
	)
	if cfg.RedisURL != "" {
		q, err := queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		broker = q
		store = cache.NewRedisStoreFromClient(q.Client())
		log.Println("Connected to Redis (cache + queue)")
	} else {
		broker = queue.NewMemoryQueue(64)
		store = cache.NewMemoryStore()
		log.Println("WARNING: No REDIS_URL set, using in-process cache and queue (single instance only)")
	}

	sceneCache := cache.New(store, cache.TTLs{
		Storyboard: cfg.StoryboardTTL,
		Images:     cfg.ImageTTL,
		Originals:  cfg.OriginalTTL,
		Videos:     cfg.VideoTTL,
		Stitched:   cfg.StitchedTTL,
	})

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Println("Initialized Supabase storage")

	// Renderers
	style := pipeline.DefaultStyle()
	if cfg.ImageStyle != "" {
		style.ImagePrefix = cfg.ImageStyle
	}
	p := pipeline.New(sceneCache,
		pipeline.WithStyle(style),
		pipeline.WithSceneDelay(cfg.SceneDelay),
		pipeline.WithUploader(stor),
	)
	p.Register(models.ArtifactKindImage,
		services.NewRunPodRenderer(cfg.RunPodAPIKey, cfg.RunPodBaseURL, cfg.RunPodImageEndpoint), jobs.ImagePolicy())
	p.Register(models.ArtifactKindEdit,
		services.NewRunPodRenderer(cfg.RunPodAPIKey, cfg.RunPodBaseURL, cfg.RunPodEditEndpoint), jobs.EditPolicy())

	switch cfg.VideoProvider {
	case config.VideoProviderVeo:
		veo, err := services.NewVeoRenderer(context.Background(), cfg.GeminiKey, cfg.VeoModel, stor)
		if err != nil {
			log.Fatalf("Failed to initialize Veo: %v", err)
		}
		p.Register(models.ArtifactKindVideo, veo, jobs.VideoPolicy())
		log.Printf("Video provider: Veo (model: %s)", cfg.VeoModel)
	default:
		p.Register(models.ArtifactKindVideo,
			services.NewRunPodRenderer(cfg.RunPodAPIKey, cfg.RunPodBaseURL, cfg.RunPodVideoEndpoint), jobs.VideoPolicy())
		log.Printf("Video provider: RunPod (endpoint: %s)", cfg.RunPodVideoEndpoint)
	}

	ffmpegSvc := services.NewFFmpegService(cfg.FFmpegTempDir)

	// Create API handler
	handler := api.NewHandler(api.Deps{
		Tracks:             database,
		Pipeline:           p,
		Queue:              broker,
		Storage:            stor,
		Decoder:            ffmpegSvc,
		Prompts:            services.NewPromptService(cfg.OpenAIKey, cfg.VisualTheme),
		MaxUploadBytes:     cfg.MaxUploadBytes,
		DefaultSensitivity: cfg.DefaultSensitivity,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server. No write timeout: generation streams run for minutes.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start stitch worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background stitching...")

		w := worker.New(broker, sceneCache, stor, ffmpegSvc, cfg.DownloadConcurrency)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	} else if cfg.RedisURL == "" {
		log.Println("WARNING: Worker disabled without Redis: stitch jobs will never run")
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
