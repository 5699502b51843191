package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/bobarin/beatframe/internal/cache"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/pipeline"
	"github.com/bobarin/beatframe/internal/storyboard"
	"github.com/google/uuid"
)

// StreamGeneration handles POST /v1/tracks/{id}/images/stream and
// POST /v1/tracks/{id}/videos/stream.
// An empty prompts list generates the track's stored storyboard. Validation
// failures are plain JSON errors; once the stream starts every outcome is an
// event.
func (h *Handler) StreamGeneration(kind models.ArtifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, ok := h.loadTrack(w, r)
		if !ok {
			return
		}

		var body models.GenerateRequest
		if err := decodeOptional(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		ctx := r.Context()
		store, err := h.loadScenes(ctx, track.ID)
		if err != nil {
			respondServiceError(w, err, "Failed to get scenes")
			return
		}

		prompts := body.Prompts
		if len(prompts) == 0 && store != nil {
			if kind == models.ArtifactKindVideo {
				prompts = store.VideoPrompts()
			} else {
				prompts = store.ImagePrompts()
			}
		}

		req := pipeline.Request{TrackID: track.ID, Kind: kind, Scenes: prompts}
		if err := h.pipeline.Validate(req); err != nil {
			respondServiceError(w, err, "Failed to start generation")
			return
		}

		sse, ok := newSSEWriter(w)
		if !ok {
			respondError(w, http.StatusInternalServerError, "Streaming unsupported")
			return
		}

		sink := pipeline.SinkFunc(func(ctx context.Context, ev models.ProgressEvent) error {
			h.recordProgress(ctx, track.ID, store, ev)
			return sse.Send(ctx, ev)
		})

		if err := h.pipeline.Run(ctx, req, sink); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[API] %s stream for track %s ended: %v", kind, track.ID, err)
		}
	}
}

// recordProgress mirrors terminal scene states into the scenes table.
func (h *Handler) recordProgress(ctx context.Context, trackID uuid.UUID, store *storyboard.SceneStore, ev models.ProgressEvent) {
	if store == nil || ev.Done {
		return
	}
	if ev.Status != models.SceneStatusCompleted && ev.Status != models.SceneStatusFailed {
		return
	}
	if err := store.Apply(ev); err != nil {
		return // scene not part of the stored storyboard
	}
	scene, ok := store.Get(ev.Timestamp)
	if !ok {
		return
	}
	if err := h.tracks.UpsertScene(ctx, trackID, scene); err != nil {
		log.Printf("[API] Failed to persist scene %ss of %s: %v", models.FormatTimestamp(ev.Timestamp), trackID, err)
	}
}

// ---------------------------------------------------------------------------
// Cached artifacts
// ---------------------------------------------------------------------------

// ListArtifacts handles GET /v1/tracks/{id}/images and /videos
func (h *Handler) ListArtifacts(kind models.ArtifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, ok := h.loadTrack(w, r)
		if !ok {
			return
		}

		artifacts, err := h.cache.Track(track.ID).List(r.Context(), kind)
		if err != nil {
			respondServiceError(w, err, "Failed to list cached artifacts")
			return
		}
		if artifacts == nil {
			artifacts = []models.Artifact{}
		}

		respondJSON(w, http.StatusOK, models.CachedArtifactsResponse{
			Cached:    len(artifacts) > 0,
			Artifacts: artifacts,
		})
	}
}

// ClearArtifacts handles DELETE /v1/tracks/{id}/images and /videos
func (h *Handler) ClearArtifacts(kind models.ArtifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, ok := h.loadTrack(w, r)
		if !ok {
			return
		}

		if err := h.cache.Track(track.ID).Clear(r.Context(), kind); err != nil {
			respondServiceError(w, err, "Failed to clear cached artifacts")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// DeleteArtifact handles DELETE /v1/tracks/{id}/images/{ts} and /videos/{ts}
func (h *Handler) DeleteArtifact(kind models.ArtifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, ok := h.loadTrack(w, r)
		if !ok {
			return
		}
		ts, ok := timestampParam(w, r)
		if !ok {
			return
		}

		if err := h.cache.Track(track.ID).Delete(r.Context(), kind, ts); err != nil {
			respondServiceError(w, err, "Failed to delete cached artifact")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// ---------------------------------------------------------------------------
// Character edit / revert
// ---------------------------------------------------------------------------

// EditCharacter handles POST /v1/tracks/{id}/scenes/{ts}/character
func (h *Handler) EditCharacter(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}
	ts, ok := timestampParam(w, r)
	if !ok {
		return
	}

	var req models.CharacterEditRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	artifact, err := h.pipeline.EditCharacter(r.Context(), track.ID, ts, req)
	if err != nil {
		respondServiceError(w, err, "Failed to edit scene")
		return
	}

	h.syncScene(r.Context(), track.ID, ts, func(s *storyboard.SceneStore) error {
		return s.MarkEdited(ts, artifact.URL)
	})

	respondJSON(w, http.StatusOK, artifact)
}

// RevertScene handles POST /v1/tracks/{id}/scenes/{ts}/revert
func (h *Handler) RevertScene(w http.ResponseWriter, r *http.Request) {
	track, ok := h.loadTrack(w, r)
	if !ok {
		return
	}
	ts, ok := timestampParam(w, r)
	if !ok {
		return
	}

	var req models.RevertRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	artifact, err := h.pipeline.Revert(r.Context(), track.ID, ts, req.Prompt)
	if err != nil {
		if errors.Is(err, cache.ErrNoOriginal) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondServiceError(w, err, "Failed to revert scene")
		return
	}

	h.syncScene(r.Context(), track.ID, ts, func(s *storyboard.SceneStore) error {
		return s.MarkReverted(ts, artifact.URL)
	})

	respondJSON(w, http.StatusOK, artifact)
}
