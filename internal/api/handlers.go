package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/bobarin/beatframe/internal/audio"
	"github.com/bobarin/beatframe/internal/cache"
	"github.com/bobarin/beatframe/internal/db"
	"github.com/bobarin/beatframe/internal/jobs"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/pipeline"
	"github.com/bobarin/beatframe/internal/queue"
	"github.com/bobarin/beatframe/internal/storyboard"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TrackStore persists tracks and their scenes.
type TrackStore interface {
	CreateTrack(ctx context.Context, track *models.Track) error
	GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error)
	ListTracks(ctx context.Context, limit, offset int) ([]models.Track, error)
	ReplaceScenes(ctx context.Context, trackID uuid.UUID, scenes []models.Scene) error
	UpsertScene(ctx context.Context, trackID uuid.UUID, scene models.Scene) error
	ListScenes(ctx context.Context, trackID uuid.UUID) ([]models.Scene, error)
	DeleteScenes(ctx context.Context, trackID uuid.UUID) error
}

// AudioDecoder turns an uploaded file into mono PCM.
type AudioDecoder interface {
	DecodePCM(ctx context.Context, audioPath string, sampleRate int) ([]float32, error)
	CreateTempFile(filename string) string
	Cleanup(paths ...string)
}

// PromptAuthor writes one scene prompt per beat.
type PromptAuthor interface {
	GenerateScenePrompts(ctx context.Context, audioName string, c audio.Characteristics) ([]models.StoryboardItem, error)
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Tracks             TrackStore
	Pipeline           *pipeline.Pipeline
	Queue              queue.Broker
	Storage            pipeline.Uploader
	Decoder            AudioDecoder
	Prompts            PromptAuthor
	MaxUploadBytes     int64
	DefaultSensitivity float64
}

type Handler struct {
	tracks             TrackStore
	pipeline           *pipeline.Pipeline
	cache              *cache.Cache
	queue              queue.Broker
	storage            pipeline.Uploader
	decoder            AudioDecoder
	prompts            PromptAuthor
	maxUploadBytes     int64
	defaultSensitivity float64
}

func NewHandler(d Deps) *Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 50 << 20
	}
	return &Handler{
		tracks:             d.Tracks,
		pipeline:           d.Pipeline,
		cache:              d.Pipeline.Cache(),
		queue:              d.Queue,
		storage:            d.Storage,
		decoder:            d.Decoder,
		prompts:            d.Prompts,
		maxUploadBytes:     d.MaxUploadBytes,
		defaultSensitivity: d.DefaultSensitivity,
	}
}

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// loadTrack resolves the {id} URL param, writing the error response itself
// when it returns false.
func (h *Handler) loadTrack(w http.ResponseWriter, r *http.Request) (*models.Track, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid track ID")
		return nil, false
	}

	track, err := h.tracks.GetTrack(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Track not found")
			return nil, false
		}
		log.Printf("[API] Failed to load track %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to get track")
		return nil, false
	}
	return track, true
}

func timestampParam(w http.ResponseWriter, r *http.Request) (float64, bool) {
	ts, err := models.ParseTimestamp(chi.URLParam(r, "ts"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return ts, true
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

// loadScenes rebuilds a track's storyboard from the database and overlays
// the cached artifacts. It returns nil when the track has no storyboard.
func (h *Handler) loadScenes(ctx context.Context, trackID uuid.UUID) (*storyboard.SceneStore, error) {
	scenes, err := h.tracks.ListScenes(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, nil
	}

	items := make([]models.StoryboardItem, len(scenes))
	var images, videos []models.Artifact
	for i, sc := range scenes {
		items[i] = models.StoryboardItem{Timestamp: sc.Timestamp, Prompt: sc.Prompt}
		if sc.ImageURL != "" {
			images = append(images, models.Artifact{Timestamp: sc.Timestamp, URL: sc.ImageURL, Status: models.SceneStatusCompleted, Edited: sc.HasEditedArtifact})
		}
		if sc.VideoURL != "" {
			videos = append(videos, models.Artifact{Timestamp: sc.Timestamp, URL: sc.VideoURL, Status: models.SceneStatusCompleted, JobID: sc.JobID})
		}
	}

	store, err := storyboard.New(items)
	if err != nil {
		return nil, err
	}
	store.Hydrate(images, videos)

	sc := h.cache.Track(trackID)
	cachedImages, err := sc.List(ctx, models.ArtifactKindImage)
	if err != nil {
		log.Printf("[API] Failed to list cached images for %s: %v", trackID, err)
	}
	cachedVideos, err := sc.List(ctx, models.ArtifactKindVideo)
	if err != nil {
		log.Printf("[API] Failed to list cached videos for %s: %v", trackID, err)
	}
	store.Hydrate(cachedImages, cachedVideos)

	return store, nil
}

// syncScene applies fn to the stored scene at ts and writes it back.
// Tracks without a storyboard are left alone.
func (h *Handler) syncScene(ctx context.Context, trackID uuid.UUID, ts float64, fn func(*storyboard.SceneStore) error) {
	store, err := h.loadScenes(ctx, trackID)
	if err != nil || store == nil {
		if err != nil {
			log.Printf("[API] Failed to load scenes for %s: %v", trackID, err)
		}
		return
	}
	if err := fn(store); err != nil {
		return
	}
	if scene, ok := store.Get(ts); ok {
		if err := h.tracks.UpsertScene(ctx, trackID, scene); err != nil {
			log.Printf("[API] Failed to persist scene %ss of %s: %v", models.FormatTimestamp(ts), trackID, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors to HTTP statuses. Anything
// unrecognised is logged and reported as fallback.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		validation *models.ValidationError
		timedOut   *jobs.JobTimedOutError
		failed     *jobs.JobFailedError
		missing    *jobs.MissingArtifactURLError
		submission *jobs.SubmissionError
	)

	switch {
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, "Track not found")
	case errors.Is(err, cache.ErrNoOriginal):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &timedOut):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &failed), errors.As(err, &missing), errors.As(err, &submission):
		respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		log.Printf("[API] %s: %v", fallback, err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// ---------------------------------------------------------------------------
// Tracks
// ---------------------------------------------------------------------------

// ListTracks handles GET /v1/tracks
// Query params:
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListTracks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, 100)
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		offset = n
	}

	tracks, err := h.tracks.ListTracks(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err, "Failed to list tracks")
		return
	}
	if tracks == nil {
		tracks = []models.Track{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tracks": tracks,
		"limit":  limit,
		"offset": offset,
	})
}

// GetTrack handles GET /v1/tracks/{id}
func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	response := models.TrackResponse{Track: *track}
	store, err := h.loadScenes(r.Context(), track.ID)
	if err != nil {
		respondServiceError(w, err, "Failed to get scenes")
		return
	}
	if store != nil {
		response.Scenes = store.Scenes()
	}

	respondJSON(w, http.StatusOK, response)
}

// Health check
// Health reports liveness plus the stitch backlog.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if n, err := h.queue.GetQueueLength(r.Context(), queue.QueueStitch); err == nil {
		resp["stitch_queue"] = n
	} else {
		log.Printf("[API] Failed to read stitch queue length: %v", err)
	}
	respondJSON(w, http.StatusOK, resp)
}

func trackAudioURL(t *models.Track) string {
	if t.AudioURL == nil {
		return ""
	}
	return *t.AudioURL
}
