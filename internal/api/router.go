package api

import (
	"strings"

	"github.com/bobarin/beatframe/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check: public, no auth required
	r.Get("/health", h.Health)

	// API routes, protected by API key auth
	r.Route("/v1", func(r chi.Router) {
		// Apply auth middleware only to /v1 routes
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Tracks
		r.Get("/tracks", h.ListTracks)
		r.Post("/tracks", h.CreateTrack)

		r.Route("/tracks/{id}", func(r chi.Router) {
			r.Get("/", h.GetTrack)

			// Storyboard
			r.Post("/prompts", h.GeneratePrompts)
			r.Get("/storyboard", h.GetStoryboard)
			r.Put("/storyboard", h.PutStoryboard)
			r.Delete("/storyboard", h.DeleteStoryboard)

			// Generation (server-sent events)
			r.Post("/images/stream", h.StreamGeneration(models.ArtifactKindImage))
			r.Post("/videos/stream", h.StreamGeneration(models.ArtifactKindVideo))

			// Cached artifacts
			r.Get("/images", h.ListArtifacts(models.ArtifactKindImage))
			r.Delete("/images", h.ClearArtifacts(models.ArtifactKindImage))
			r.Delete("/images/{ts}", h.DeleteArtifact(models.ArtifactKindImage))
			r.Get("/videos", h.ListArtifacts(models.ArtifactKindVideo))
			r.Delete("/videos", h.ClearArtifacts(models.ArtifactKindVideo))
			r.Delete("/videos/{ts}", h.DeleteArtifact(models.ArtifactKindVideo))

			// Character edits
			r.Post("/scenes/{ts}/character", h.EditCharacter)
			r.Post("/scenes/{ts}/revert", h.RevertScene)

			// Final video
			r.Post("/stitch", h.CreateStitch)
			r.Get("/stitch", h.GetStitch)
		})
	})

	return r
}
