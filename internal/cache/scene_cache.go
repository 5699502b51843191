package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/beatframe/internal/models"
)

// ErrNoOriginal is returned by Revert when no pre-edit artifact was saved.
var ErrNoOriginal = errors.New("no original image found for this scene")

// TTLs holds the expiry of each cached record family.
type TTLs struct {
	Storyboard time.Duration
	Images     time.Duration
	Originals  time.Duration
	Videos     time.Duration
	Stitched   time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Storyboard: time.Hour,
		Images:     24 * time.Hour,
		Originals:  24 * time.Hour,
		Videos:     48 * time.Hour,
		Stitched:   48 * time.Hour,
	}
}

// Cache hands out per-track scene caches over one Store.
type Cache struct {
	store Store
	ttl   TTLs
}

func New(store Store, ttl TTLs) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Track returns the cache scoped to one track.
func (c *Cache) Track(trackID uuid.UUID) *SceneCache {
	return &SceneCache{store: c.store, ttl: c.ttl, trackID: trackID}
}

// SceneCache stores per-timestamp artifacts for one track. Image and edit
// artifacts share the images collection; videos have their own.
type SceneCache struct {
	store   Store
	ttl     TTLs
	trackID uuid.UUID
}

// collection is the stored form of an artifact family, keyed by the
// canonical timestamp string.
type collection map[string]models.Artifact

func (c *SceneCache) key(suffix string) string {
	return fmt.Sprintf("beatframe:%s:%s", c.trackID, suffix)
}

func (c *SceneCache) collectionKey(kind models.ArtifactKind) (string, time.Duration) {
	if kind == models.ArtifactKindVideo {
		return c.key("videos"), c.ttl.Videos
	}
	return c.key("images"), c.ttl.Images
}

func (c *SceneCache) originalKey(ts float64) string {
	return c.key("originals:" + models.FormatTimestamp(ts))
}

func (c *SceneCache) load(ctx context.Context, kind models.ArtifactKind) (collection, error) {
	key, _ := c.collectionKey(kind)
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return collection{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCollection(data)
}

func decodeCollection(data []byte) (collection, error) {
	coll := collection{}
	if len(data) == 0 {
		return coll, nil
	}
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, fmt.Errorf("failed to decode cached artifacts: %w", err)
	}
	return coll, nil
}

// Get returns the artifact at ts, or nil when none is cached.
func (c *SceneCache) Get(ctx context.Context, kind models.ArtifactKind, ts float64) (*models.Artifact, error) {
	coll, err := c.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	a, ok := coll[models.FormatTimestamp(ts)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// List returns every cached artifact of kind in timestamp order.
func (c *SceneCache) List(ctx context.Context, kind models.ArtifactKind) ([]models.Artifact, error) {
	coll, err := c.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]models.Artifact, 0, len(coll))
	for _, a := range coll {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Upsert replaces the entry at a.Timestamp, leaving other timestamps intact.
func (c *SceneCache) Upsert(ctx context.Context, kind models.ArtifactKind, a models.Artifact) error {
	key, ttl := c.collectionKey(kind)
	return c.store.Update(ctx, key, ttl, func(current []byte) ([]byte, error) {
		coll, err := decodeCollection(current)
		if err != nil {
			return nil, err
		}
		coll[models.FormatTimestamp(a.Timestamp)] = a
		return json.Marshal(coll)
	})
}

// Delete removes the entry at ts.
func (c *SceneCache) Delete(ctx context.Context, kind models.ArtifactKind, ts float64) error {
	key, ttl := c.collectionKey(kind)
	return c.store.Update(ctx, key, ttl, func(current []byte) ([]byte, error) {
		coll, err := decodeCollection(current)
		if err != nil {
			return nil, err
		}
		delete(coll, models.FormatTimestamp(ts))
		if len(coll) == 0 {
			return nil, nil
		}
		return json.Marshal(coll)
	})
}

// Clear drops the whole collection for kind.
func (c *SceneCache) Clear(ctx context.Context, kind models.ArtifactKind) error {
	key, _ := c.collectionKey(kind)
	return c.store.Del(ctx, key)
}

// SaveOriginal records the pre-edit URL for ts. Only the first call per
// timestamp wins, so repeated edits never overwrite the true original.
// It reports whether this call stored the record.
func (c *SceneCache) SaveOriginal(ctx context.Context, ts float64, originalURL, editedURL string) (bool, error) {
	data, err := json.Marshal(models.OriginalArtifact{
		Timestamp:   ts,
		OriginalURL: originalURL,
		EditedURL:   editedURL,
		SavedAt:     time.Now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal original: %w", err)
	}
	saved, err := c.store.SetNX(ctx, c.originalKey(ts), data, c.ttl.Originals)
	if err != nil {
		return false, err
	}
	if saved {
		log.Printf("[Cache] Saved original image for track %s at %ss", c.trackID, models.FormatTimestamp(ts))
	}
	return saved, nil
}

// GetOriginal returns the saved pre-edit record, or nil.
func (c *SceneCache) GetOriginal(ctx context.Context, ts float64) (*models.OriginalArtifact, error) {
	data, err := c.store.Get(ctx, c.originalKey(ts))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o models.OriginalArtifact
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode original: %w", err)
	}
	return &o, nil
}

// Revert restores the original image at ts into the image collection. An
// empty prompt keeps the cached prompt. The original record stays in place
// so a later edit-and-revert cycle still finds it.
func (c *SceneCache) Revert(ctx context.Context, ts float64, prompt string) (*models.Artifact, error) {
	orig, err := c.GetOriginal(ctx, ts)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, ErrNoOriginal
	}

	if prompt == "" {
		if current, err := c.Get(ctx, models.ArtifactKindImage, ts); err == nil && current != nil {
			prompt = current.Prompt
		}
	}

	a := models.Artifact{
		Timestamp:   ts,
		Prompt:      prompt,
		URL:         orig.OriginalURL,
		Status:      models.SceneStatusCompleted,
		GeneratedAt: time.Now().UnixMilli(),
	}
	if err := c.Upsert(ctx, models.ArtifactKindImage, a); err != nil {
		return nil, err
	}
	log.Printf("[Cache] Reverted track %s at %ss to original image", c.trackID, models.FormatTimestamp(ts))
	return &a, nil
}

func (c *SceneCache) SaveStoryboard(ctx context.Context, sb models.Storyboard) error {
	sb.TrackID = c.trackID
	if sb.CachedAt == 0 {
		sb.CachedAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("failed to marshal storyboard: %w", err)
	}
	return c.store.Set(ctx, c.key("storyboard"), data, c.ttl.Storyboard)
}

// GetStoryboard returns the cached storyboard, or nil.
func (c *SceneCache) GetStoryboard(ctx context.Context) (*models.Storyboard, error) {
	data, err := c.store.Get(ctx, c.key("storyboard"))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sb models.Storyboard
	if err := json.Unmarshal(data, &sb); err != nil {
		return nil, fmt.Errorf("failed to decode storyboard: %w", err)
	}
	return &sb, nil
}

func (c *SceneCache) ClearStoryboard(ctx context.Context) error {
	return c.store.Del(ctx, c.key("storyboard"))
}

func (c *SceneCache) SaveStitched(ctx context.Context, v models.StitchedVideo) error {
	v.TrackID = c.trackID
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal stitched video: %w", err)
	}
	return c.store.Set(ctx, c.key("stitched"), data, c.ttl.Stitched)
}

// GetStitched returns the latest stitch record, or nil.
func (c *SceneCache) GetStitched(ctx context.Context) (*models.StitchedVideo, error) {
	data, err := c.store.Get(ctx, c.key("stitched"))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v models.StitchedVideo
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode stitched video: %w", err)
	}
	return &v, nil
}

func (c *SceneCache) ClearStitched(ctx context.Context) error {
	return c.store.Del(ctx, c.key("stitched"))
}
