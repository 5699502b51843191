package api

import (
	"log"
	"net/http"
	"time"

	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/queue"
)

// A processing record older than this is assumed to belong to a dead worker.
const stitchStaleAfter = 30 * time.Minute

// CreateStitch handles POST /v1/tracks/{id}/stitch
// Without videoUrls every completed cached clip is used in timestamp order;
// without audioUrl the track's uploaded audio is used.
func (h *Handler) CreateStitch(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	var req models.StitchRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	sc := h.cache.Track(track.ID)

	videoURLs := req.VideoURLs
	if len(videoURLs) == 0 {
		videos, err := sc.List(ctx, models.ArtifactKindVideo)
		if err != nil {
			respondServiceError(w, err, "Failed to list cached videos")
			return
		}
		for _, v := range videos {
			if v.Ready() {
				videoURLs = append(videoURLs, v.URL)
			}
		}
	}
	if len(videoURLs) == 0 {
		respondError(w, http.StatusBadRequest, "No completed videos to stitch")
		return
	}

	audioURL := req.AudioURL
	if audioURL == "" {
		audioURL = trackAudioURL(track)
	}
	if audioURL == "" {
		respondError(w, http.StatusBadRequest, "audioUrl is required for a track without uploaded audio")
		return
	}

	existing, err := sc.GetStitched(ctx)
	if err != nil {
		log.Printf("[API] Failed to read stitched record for %s: %v", track.ID, err)
	}
	if existing != nil && existing.Status == models.StitchStatusProcessing &&
		time.Since(time.UnixMilli(existing.StitchedAt)) < stitchStaleAfter {
		respondError(w, http.StatusConflict, "A stitch is already in progress for this track")
		return
	}

	job := queue.NewStitchJob(track.ID, videoURLs, audioURL, track.DurationSeconds)
	record := models.StitchedVideo{
		TrackID:       track.ID,
		JobID:         job.ID,
		AudioURL:      audioURL,
		SceneCount:    len(videoURLs),
		TotalDuration: track.DurationSeconds,
		Status:        models.StitchStatusProcessing,
		StitchedAt:    time.Now().UnixMilli(),
	}

	// Record first so the worker's final state can never be overwritten
	if err := sc.SaveStitched(ctx, record); err != nil {
		respondServiceError(w, err, "Failed to record stitch job")
		return
	}

	if err := queue.EnqueueStitch(ctx, h.queue, job); err != nil {
		record.Status = models.StitchStatusFailed
		record.Error = err.Error()
		if saveErr := sc.SaveStitched(ctx, record); saveErr != nil {
			log.Printf("[API] Failed to record stitch failure for %s: %v", track.ID, saveErr)
		}
		respondServiceError(w, err, "Failed to enqueue stitch job")
		return
	}

	log.Printf("[API] Enqueued stitch job %s for track %s (%d clips)", job.ID, track.ID, len(videoURLs))
	respondJSON(w, http.StatusAccepted, record)
}

// GetStitch handles GET /v1/tracks/{id}/stitch
func (h *Handler) GetStitch(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}

	record, err := h.cache.Track(track.ID).GetStitched(r.Context())
	if err != nil {
		respondServiceError(w, err, "Failed to get stitched video")
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "No stitched video for this track")
		return
	}

	respondJSON(w, http.StatusOK, record)
}
