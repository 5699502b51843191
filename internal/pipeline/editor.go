package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/storage"
)

// Uploader stores reference images so the renderer can fetch them by URL.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	GetPublicURL(path string) string
}

var dataURLPattern = regexp.MustCompile(`^data:([A-Za-z0-9.+/-]+);base64,(.+)$`)

// DecodeDataURL splits a base64 data URL into its content type and bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	m := dataURLPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", nil, &models.ValidationError{Field: "characterImageBase64", Reason: "invalid base64 data URL"}
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return "", nil, &models.ValidationError{Field: "characterImageBase64", Reason: fmt.Sprintf("invalid base64 payload: %v", err)}
	}
	return m[1], data, nil
}

// EditCharacter blends a reference character into the scene image at ts.
// The pre-edit URL is saved once, before the cached image is replaced, so
// Revert can always restore the very first original.
func (p *Pipeline) EditCharacter(ctx context.Context, trackID uuid.UUID, ts float64, req models.CharacterEditRequest) (*models.Artifact, error) {
	if req.SceneImageURL == "" || req.CharacterImageBase64 == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, &models.ValidationError{Field: "request", Reason: "sceneImageUrl, characterImageBase64 and prompt are required"}
	}
	b, ok := p.backends[models.ArtifactKindEdit]
	if !ok {
		return nil, fmt.Errorf("no renderer registered for character edits")
	}
	if p.uploader == nil {
		return nil, fmt.Errorf("no uploader configured for character images")
	}

	contentType, data, err := DecodeDataURL(req.CharacterImageBase64)
	if err != nil {
		return nil, err
	}

	path := storage.CharacterPath(trackID, contentType)
	if err := p.uploader.Upload(ctx, path, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to upload character image: %w", err)
	}
	characterURL := p.uploader.GetPublicURL(path)
	log.Printf("[Pipeline] Uploaded character image for track %s: %s", trackID, characterURL)

	jobID, err := b.dispatcher.Submit(ctx, editRequest(req.Prompt, req.SceneImageURL, characterURL))
	if err != nil {
		return nil, err
	}
	res, err := b.poller.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}

	sc := p.cache.Track(trackID)
	if _, err := sc.SaveOriginal(ctx, ts, req.SceneImageURL, res.URL); err != nil {
		log.Printf("[Pipeline] Failed to save original image at %ss: %v", models.FormatTimestamp(ts), err)
	}

	a := models.Artifact{
		Timestamp:   ts,
		Prompt:      req.Prompt,
		URL:         res.URL,
		Status:      models.SceneStatusCompleted,
		JobID:       jobID,
		Edited:      true,
		GeneratedAt: p.now().UnixMilli(),
	}
	if err := sc.Upsert(ctx, models.ArtifactKindImage, a); err != nil {
		log.Printf("[Pipeline] Failed to cache edited image at %ss: %v", models.FormatTimestamp(ts), err)
	}
	log.Printf("[Pipeline] Character edit for track %s at %ss completed", trackID, models.FormatTimestamp(ts))
	return &a, nil
}

// Revert restores the original image at ts.
func (p *Pipeline) Revert(ctx context.Context, trackID uuid.UUID, ts float64, prompt string) (*models.Artifact, error) {
	return p.cache.Track(trackID).Revert(ctx, ts, prompt)
}
