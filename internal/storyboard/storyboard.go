// Package storyboard holds the ordered scene model of a track: one scene per
// beat, keyed by timestamp, with the state of its generated artifacts.
package storyboard

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bobarin/beatframe/internal/models"
)

// SceneStore is the in-memory storyboard of one track. It is safe for
// concurrent use.
type SceneStore struct {
	mu     sync.RWMutex
	scenes []models.Scene
	index  map[string]int
}

// New builds a store from storyboard items. Timestamps must be unique and
// non-negative; items are sorted by timestamp and durations derived from the
// gap to the next scene.
func New(items []models.StoryboardItem) (*SceneStore, error) {
	sorted := append([]models.StoryboardItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	s := &SceneStore{
		scenes: make([]models.Scene, len(sorted)),
		index:  make(map[string]int, len(sorted)),
	}
	for i, item := range sorted {
		if item.Timestamp < 0 {
			return nil, &models.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("negative timestamp %v", item.Timestamp)}
		}
		if strings.TrimSpace(item.Prompt) == "" {
			return nil, &models.ValidationError{Field: "prompt", Reason: fmt.Sprintf("empty prompt at %vs", item.Timestamp)}
		}
		key := models.FormatTimestamp(item.Timestamp)
		if _, dup := s.index[key]; dup {
			return nil, &models.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("duplicate timestamp %s", key)}
		}
		s.index[key] = i
		s.scenes[i] = models.Scene{
			Timestamp: item.Timestamp,
			Prompt:    item.Prompt,
			Status:    models.SceneStatusPending,
		}
	}
	s.recomputeDurations()
	return s, nil
}

// FromTimestamps builds a store from beat times and matching prompts.
func FromTimestamps(timestamps []float64, prompts []string) (*SceneStore, error) {
	if len(timestamps) != len(prompts) {
		return nil, &models.ValidationError{Field: "prompts", Reason: "need one prompt per timestamp"}
	}
	items := make([]models.StoryboardItem, len(timestamps))
	for i := range timestamps {
		items[i] = models.StoryboardItem{Timestamp: timestamps[i], Prompt: prompts[i]}
	}
	return New(items)
}

// Durations returns ts[i+1]-ts[i] for each scene, and the fallback for the
// last one. ts must be sorted.
func Durations(ts []float64) []float64 {
	out := make([]float64, len(ts))
	for i := range ts {
		if i == len(ts)-1 {
			out[i] = models.DefaultLastSceneDuration
			continue
		}
		out[i] = ts[i+1] - ts[i]
	}
	return out
}

// recomputeDurations must be called with mu held.
func (s *SceneStore) recomputeDurations() {
	ts := make([]float64, len(s.scenes))
	for i, sc := range s.scenes {
		ts[i] = sc.Timestamp
	}
	for i, d := range Durations(ts) {
		s.scenes[i].Duration = d
	}
}

func (s *SceneStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scenes)
}

// Scenes returns a copy of all scenes in timestamp order.
func (s *SceneStore) Scenes() []models.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Scene(nil), s.scenes...)
}

// Get returns the scene at ts.
func (s *SceneStore) Get(ts float64) (models.Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[models.FormatTimestamp(ts)]
	if !ok {
		return models.Scene{}, false
	}
	return s.scenes[i], true
}

func (s *SceneStore) update(ts float64, fn func(sc *models.Scene)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[models.FormatTimestamp(ts)]
	if !ok {
		return fmt.Errorf("no scene at %ss", models.FormatTimestamp(ts))
	}
	fn(&s.scenes[i])
	return nil
}

// Apply folds a pipeline progress event into the matching scene. The Done
// sentinel is ignored.
func (s *SceneStore) Apply(ev models.ProgressEvent) error {
	if ev.Done {
		return nil
	}
	return s.update(ev.Timestamp, func(sc *models.Scene) {
		sc.Status = ev.Status
		sc.JobID = ev.JobID
		sc.Error = ev.Error
		if ev.ImageURL != "" && ev.Kind != models.ArtifactKindVideo {
			sc.ImageURL = ev.ImageURL
		}
		if ev.VideoURL != "" {
			sc.VideoURL = ev.VideoURL
		}
	})
}

// Hydrate fills scenes from cached artifacts. Artifacts for timestamps not in
// the storyboard are skipped.
func (s *SceneStore) Hydrate(images, videos []models.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range images {
		if i, ok := s.index[models.FormatTimestamp(a.Timestamp)]; ok && a.Ready() {
			s.scenes[i].ImageURL = a.URL
			s.scenes[i].HasEditedArtifact = a.Edited
			s.scenes[i].Status = a.Status
		}
	}
	for _, a := range videos {
		i, ok := s.index[models.FormatTimestamp(a.Timestamp)]
		if !ok {
			continue
		}
		s.scenes[i].Status = a.Status
		s.scenes[i].JobID = a.JobID
		s.scenes[i].Error = a.Error
		if a.Ready() {
			s.scenes[i].VideoURL = a.URL
		}
	}
}

// MarkEdited swaps in a character-edited image.
func (s *SceneStore) MarkEdited(ts float64, imageURL string) error {
	return s.update(ts, func(sc *models.Scene) {
		sc.ImageURL = imageURL
		sc.HasEditedArtifact = true
		sc.Status = models.SceneStatusCompleted
	})
}

// MarkReverted restores the original image.
func (s *SceneStore) MarkReverted(ts float64, imageURL string) error {
	return s.update(ts, func(sc *models.Scene) {
		sc.ImageURL = imageURL
		sc.HasEditedArtifact = false
	})
}

// Items returns the storyboard items with derived durations.
func (s *SceneStore) Items() []models.StoryboardItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StoryboardItem, len(s.scenes))
	for i, sc := range s.scenes {
		out[i] = models.StoryboardItem{Timestamp: sc.Timestamp, Prompt: sc.Prompt, Duration: sc.Duration}
	}
	return out
}

// ImagePrompts returns one generation prompt per scene.
func (s *SceneStore) ImagePrompts() []models.ScenePrompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScenePrompt, len(s.scenes))
	for i, sc := range s.scenes {
		out[i] = models.ScenePrompt{Timestamp: sc.Timestamp, Prompt: sc.Prompt}
	}
	return out
}

// VideoPrompts returns prompts for scenes that already have a source image,
// with the scene duration as the clip length.
func (s *SceneStore) VideoPrompts() []models.ScenePrompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScenePrompt
	for _, sc := range s.scenes {
		if sc.ImageURL == "" {
			continue
		}
		out = append(out, models.ScenePrompt{
			Timestamp:     sc.Timestamp,
			Prompt:        sc.Prompt,
			ImageURL:      sc.ImageURL,
			AudioDuration: sc.Duration,
		})
	}
	return out
}

// CompletedVideoURLs returns finished clip URLs in timestamp order.
func (s *SceneStore) CompletedVideoURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var urls []string
	for _, sc := range s.scenes {
		if sc.VideoURL != "" {
			urls = append(urls, sc.VideoURL)
		}
	}
	return urls
}
