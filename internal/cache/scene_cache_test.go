package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/beatframe/internal/models"
)

func newTestCache() (*SceneCache, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, DefaultTTLs()).Track(uuid.New()), store
}

func completedImage(ts float64, url string) models.Artifact {
	return models.Artifact{Timestamp: ts, Prompt: "p", URL: url, Status: models.SceneStatusCompleted}
}

func TestUpsertIsIdempotentAndScoped(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	a := completedImage(2, "https://cdn/2.png")
	for i := 0; i < 3; i++ {
		if err := c.Upsert(ctx, models.ArtifactKindImage, a); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := c.Upsert(ctx, models.ArtifactKindImage, completedImage(0.5, "https://cdn/0.5.png")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	list, err := c.List(ctx, models.ArtifactKindImage)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries after repeated upserts, got %d", len(list))
	}
	if list[0].Timestamp != 0.5 || list[1].Timestamp != 2 {
		t.Errorf("expected timestamp order, got %v, %v", list[0].Timestamp, list[1].Timestamp)
	}

	videos, _ := c.List(ctx, models.ArtifactKindVideo)
	if len(videos) != 0 {
		t.Errorf("image upserts leaked into videos: %+v", videos)
	}

	got, _ := c.Get(ctx, models.ArtifactKindImage, 2)
	if !got.Ready() || got.URL != a.URL {
		t.Errorf("unexpected entry %+v", got)
	}
	if missing, _ := c.Get(ctx, models.ArtifactKindImage, 7); missing != nil {
		t.Errorf("expected nil for uncached timestamp, got %+v", missing)
	}
}

func TestTracksAreIsolated(t *testing.T) {
	ctx := context.Background()
	root := New(NewMemoryStore(), DefaultTTLs())
	a, b := root.Track(uuid.New()), root.Track(uuid.New())

	_ = a.Upsert(ctx, models.ArtifactKindVideo, completedImage(1, "https://a"))
	if got, _ := b.Get(ctx, models.ArtifactKindVideo, 1); got != nil {
		t.Errorf("track b sees track a's video: %+v", got)
	}
}

func TestEditArtifactsShareImageCollection(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	_ = c.Upsert(ctx, models.ArtifactKindEdit, completedImage(3, "https://edit"))
	got, _ := c.Get(ctx, models.ArtifactKindImage, 3)
	if got == nil || got.URL != "https://edit" {
		t.Errorf("expected edit to land in images, got %+v", got)
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache()

	_ = c.Upsert(ctx, models.ArtifactKindVideo, completedImage(1, "https://1"))
	_ = c.Upsert(ctx, models.ArtifactKindVideo, completedImage(2, "https://2"))

	if err := c.Delete(ctx, models.ArtifactKindVideo, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, _ := c.List(ctx, models.ArtifactKindVideo)
	if len(list) != 1 || list[0].Timestamp != 2 {
		t.Errorf("unexpected list after delete: %+v", list)
	}

	_ = c.Delete(ctx, models.ArtifactKindVideo, 2)
	key, _ := c.collectionKey(models.ArtifactKindVideo)
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected empty collection key to be removed, got %v", err)
	}

	_ = c.Upsert(ctx, models.ArtifactKindImage, completedImage(1, "https://1"))
	if err := c.Clear(ctx, models.ArtifactKindImage); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if list, _ := c.List(ctx, models.ArtifactKindImage); len(list) != 0 {
		t.Errorf("expected no images after clear, got %d", len(list))
	}
}

func TestSaveOriginalIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	saved, err := c.SaveOriginal(ctx, 4, "https://orig", "https://edit1")
	if err != nil || !saved {
		t.Fatalf("first SaveOriginal = %v, %v", saved, err)
	}
	saved, err = c.SaveOriginal(ctx, 4, "https://edit1", "https://edit2")
	if err != nil || saved {
		t.Fatalf("second SaveOriginal = %v, %v; want false", saved, err)
	}

	o, _ := c.GetOriginal(ctx, 4)
	if o == nil || o.OriginalURL != "https://orig" {
		t.Errorf("original overwritten: %+v", o)
	}
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	if _, err := c.Revert(ctx, 4, ""); !errors.Is(err, ErrNoOriginal) {
		t.Fatalf("expected ErrNoOriginal, got %v", err)
	}

	_ = c.Upsert(ctx, models.ArtifactKindImage, models.Artifact{
		Timestamp: 4, Prompt: "neon rain", URL: "https://edit", Status: models.SceneStatusCompleted, Edited: true,
	})
	_, _ = c.SaveOriginal(ctx, 4, "https://orig", "https://edit")

	a, err := c.Revert(ctx, 4, "")
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if a.URL != "https://orig" || a.Edited || a.Prompt != "neon rain" {
		t.Errorf("unexpected reverted artifact %+v", a)
	}
	got, _ := c.Get(ctx, models.ArtifactKindImage, 4)
	if got.URL != "https://orig" {
		t.Errorf("cache not updated by revert: %+v", got)
	}
	if o, _ := c.GetOriginal(ctx, 4); o == nil {
		t.Error("revert must keep the original record")
	}
}

func TestStoryboardAndStitched(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	if sb, _ := c.GetStoryboard(ctx); sb != nil {
		t.Fatalf("expected no storyboard, got %+v", sb)
	}
	err := c.SaveStoryboard(ctx, models.Storyboard{
		Items:         []models.StoryboardItem{{Timestamp: 0, Prompt: "a"}, {Timestamp: 2, Prompt: "b"}},
		AudioFileName: "song.wav",
	})
	if err != nil {
		t.Fatalf("SaveStoryboard: %v", err)
	}
	sb, _ := c.GetStoryboard(ctx)
	if sb == nil || len(sb.Items) != 2 || sb.TrackID != c.trackID || sb.CachedAt == 0 {
		t.Errorf("unexpected storyboard %+v", sb)
	}
	_ = c.ClearStoryboard(ctx)
	if sb, _ := c.GetStoryboard(ctx); sb != nil {
		t.Error("expected storyboard cleared")
	}

	_ = c.SaveStitched(ctx, models.StitchedVideo{Status: models.StitchStatusProcessing, SceneCount: 3})
	v, _ := c.GetStitched(ctx)
	if v == nil || v.Status != models.StitchStatusProcessing || v.SceneCount != 3 {
		t.Errorf("unexpected stitched record %+v", v)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }

	_ = store.Set(ctx, "k", []byte("v"), time.Minute)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expiry, got %v", err)
	}
	if ok, _ := store.SetNX(ctx, "k", []byte("w"), 0); !ok {
		t.Error("expected SetNX to succeed on expired key")
	}
}

func TestConcurrentUpsertsKeepAllEntries(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(ts float64) {
			defer wg.Done()
			_ = c.Upsert(ctx, models.ArtifactKindImage, completedImage(ts, "https://x"))
		}(float64(i))
	}
	wg.Wait()

	list, _ := c.List(ctx, models.ArtifactKindImage)
	if len(list) != 20 {
		t.Errorf("lost updates: expected 20 entries, got %d", len(list))
	}
}
