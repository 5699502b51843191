package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/beatframe/internal/audio"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/services"
	"github.com/bobarin/beatframe/internal/storage"
	"github.com/bobarin/beatframe/internal/storyboard"
	"github.com/google/uuid"
)

// trackAnalysis is what a track's analysis column holds.
type trackAnalysis struct {
	Beats           []audio.BeatEvent     `json:"beats"`
	Characteristics audio.Characteristics `json:"characteristics"`
}

func toJSONB(v any) (models.JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out models.JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func analysisOf(t *models.Track) (trackAnalysis, error) {
	var a trackAnalysis
	data, err := json.Marshal(t.Analysis)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to decode track analysis: %w", err)
	}
	return a, nil
}

// CreateTrack handles POST /v1/tracks
// Multipart form fields:
//   - audio:       the track file (any format ffmpeg decodes)
//   - sensitivity: beat detection sensitivity in [0, 2] (optional)
func (h *Handler) CreateTrack(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form or file too large")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sensitivity := h.defaultSensitivity
	if v := r.FormValue("sensitivity"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "sensitivity must be a number")
			return
		}
		sensitivity = s
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}

	ctx := r.Context()
	trackID := uuid.New()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".mp3"
	}

	// Decode from a temp file; ffmpeg needs a seekable input for most containers
	localPath := h.decoder.CreateTempFile(fmt.Sprintf("upload_%s%s", trackID, ext))
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		respondServiceError(w, err, "Failed to stage audio file")
		return
	}
	defer h.decoder.Cleanup(localPath)

	samples, err := h.decoder.DecodePCM(ctx, localPath, services.AnalysisSampleRate)
	if err != nil {
		log.Printf("[API] Failed to decode %s: %v", header.Filename, err)
		respondError(w, http.StatusUnprocessableEntity, "Could not decode audio file")
		return
	}

	beats, err := audio.DetectBeats(samples, services.AnalysisSampleRate, sensitivity)
	if err != nil {
		respondServiceError(w, err, "Failed to detect beats")
		return
	}

	chars, err := audio.ExtractCharacteristics(samples, services.AnalysisSampleRate, beats)
	if err != nil {
		respondServiceError(w, err, "Failed to extract audio features")
		return
	}

	analysis, err := toJSONB(trackAnalysis{Beats: beats, Characteristics: chars})
	if err != nil {
		respondServiceError(w, err, "Failed to encode analysis")
		return
	}

	contentType := storage.ContentTypeFor(header.Filename, header.Header.Get("Content-Type"))
	storagePath := storage.AudioPath(trackID, ext)
	if err := h.storage.Upload(ctx, storagePath, data, contentType); err != nil {
		log.Printf("[API] Failed to upload audio for track %s: %v", trackID, err)
		respondError(w, http.StatusBadGateway, "Failed to upload audio")
		return
	}
	audioURL := h.storage.GetPublicURL(storagePath)

	track := &models.Track{
		ID:              trackID,
		FileName:        header.Filename,
		AudioURL:        &audioURL,
		Sensitivity:     sensitivity,
		Tempo:           chars.Tempo,
		OverallEnergy:   chars.OverallEnergy,
		DurationSeconds: chars.Duration,
		Analysis:        analysis,
	}

	if err := h.tracks.CreateTrack(ctx, track); err != nil {
		respondServiceError(w, err, "Failed to create track")
		return
	}

	log.Printf("[API] Track %s analysed: %.1fs, %d beats, %.0f BPM, energy %.2f",
		trackID, chars.Duration, len(beats), chars.Tempo, chars.OverallEnergy)

	respondJSON(w, http.StatusCreated, models.TrackResponse{Track: *track})
}

// ---------------------------------------------------------------------------
// Storyboard
// ---------------------------------------------------------------------------

type storyboardResponse struct {
	Storyboard *models.Storyboard `json:"storyboard"`
	Cached     bool               `json:"cached"`
}

// saveStoryboard validates items and writes them to both the cache and the
// scenes table.
func (h *Handler) saveStoryboard(ctx context.Context, track *models.Track, items []models.StoryboardItem) (*models.Storyboard, error) {
	store, err := storyboard.New(items)
	if err != nil {
		return nil, err
	}

	sb := models.Storyboard{
		TrackID:       track.ID,
		Items:         store.Items(),
		AudioFileName: track.FileName,
		AudioURL:      trackAudioURL(track),
		CachedAt:      time.Now().UnixMilli(),
	}

	if err := h.tracks.ReplaceScenes(ctx, track.ID, store.Scenes()); err != nil {
		return nil, err
	}
	if err := h.cache.Track(track.ID).SaveStoryboard(ctx, sb); err != nil {
		log.Printf("[API] Failed to cache storyboard for %s: %v", track.ID, err)
	}

	return &sb, nil
}

// GeneratePrompts handles POST /v1/tracks/{id}/prompts
func (h *Handler) GeneratePrompts(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	analysis, err := analysisOf(track)
	if err != nil {
		respondServiceError(w, err, "Failed to read track analysis")
		return
	}

	items, err := h.prompts.GenerateScenePrompts(r.Context(), track.FileName, analysis.Characteristics)
	if err != nil {
		respondServiceError(w, err, "Failed to generate scene prompts")
		return
	}

	sb, err := h.saveStoryboard(r.Context(), track, items)
	if err != nil {
		respondServiceError(w, err, "Failed to save storyboard")
		return
	}

	respondJSON(w, http.StatusOK, storyboardResponse{Storyboard: sb})
}

// GetStoryboard handles GET /v1/tracks/{id}/storyboard
// The cached storyboard wins; otherwise it is rebuilt from the scenes table.
func (h *Handler) GetStoryboard(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	sb, err := h.cache.Track(track.ID).GetStoryboard(r.Context())
	if err != nil {
		log.Printf("[API] Failed to read cached storyboard for %s: %v", track.ID, err)
	}
	if sb != nil {
		respondJSON(w, http.StatusOK, storyboardResponse{Storyboard: sb, Cached: true})
		return
	}

	store, err := h.loadScenes(r.Context(), track.ID)
	if err != nil {
		respondServiceError(w, err, "Failed to get scenes")
		return
	}
	if store == nil {
		respondError(w, http.StatusNotFound, "No storyboard for this track")
		return
	}

	respondJSON(w, http.StatusOK, storyboardResponse{Storyboard: &models.Storyboard{
		TrackID:       track.ID,
		Items:         store.Items(),
		AudioFileName: track.FileName,
		AudioURL:      trackAudioURL(track),
	}})
}

// PutStoryboard handles PUT /v1/tracks/{id}/storyboard
func (h *Handler) PutStoryboard(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	var req models.Storyboard
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "items are required")
		return
	}

	sb, err := h.saveStoryboard(r.Context(), track, req.Items)
	if err != nil {
		respondServiceError(w, err, "Failed to save storyboard")
		return
	}

	respondJSON(w, http.StatusOK, storyboardResponse{Storyboard: sb})
}

// DeleteStoryboard handles DELETE /v1/tracks/{id}/storyboard
func (h *Handler) DeleteStoryboard(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	if err := h.cache.Track(track.ID).ClearStoryboard(r.Context()); err != nil {
		respondServiceError(w, err, "Failed to clear cached storyboard")
		return
	}
	if err := h.tracks.DeleteScenes(r.Context(), track.ID); err != nil {
		respondServiceError(w, err, "Failed to delete scenes")
		return
	}
	// A stitched video no longer matches a cleared storyboard
	if err := h.cache.Track(track.ID).ClearStitched(r.Context()); err != nil {
		log.Printf("[API] Failed to clear stitched record for %s: %v", track.ID, err)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
