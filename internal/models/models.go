package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Enums
type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusQueued     SceneStatus = "queued"
	SceneStatusProcessing SceneStatus = "processing"
	SceneStatusCompleted  SceneStatus = "completed"
	SceneStatusFailed     SceneStatus = "failed"
)

// ArtifactKind names a generated artifact collection. It doubles as the
// renderer kind used to pick a provider endpoint.
type ArtifactKind string

const (
	ArtifactKindImage ArtifactKind = "image"
	ArtifactKindVideo ArtifactKind = "video"
	ArtifactKindEdit  ArtifactKind = "edit"
)

func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactKindImage, ArtifactKindVideo, ArtifactKindEdit:
		return true
	}
	return false
}

type StitchStatus string

const (
	StitchStatusProcessing StitchStatus = "processing"
	StitchStatusCompleted  StitchStatus = "completed"
	StitchStatusFailed     StitchStatus = "failed"
)

// DefaultLastSceneDuration is used for the final scene, which has no
// following timestamp to measure against.
const DefaultLastSceneDuration = 3.0

// ValidationError reports malformed input. Callers fail fast on it: no retry
// and no partial mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// FormatTimestamp renders a scene timestamp the way it appears in cache keys
// and URLs: shortest representation, no exponent.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (float64, error) {
	ts, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%q is not a number", s)}
	}
	if ts < 0 {
		return 0, &ValidationError{Field: "timestamp", Reason: "must not be negative"}
	}
	return ts, nil
}

// Models

// Scene is the per-beat unit of storyboard and generation work, keyed by
// Timestamp.
type Scene struct {
	Timestamp         float64     `json:"timestamp"`
	Prompt            string      `json:"prompt"`
	Duration          float64     `json:"duration"`
	ImageURL          string      `json:"imageUrl,omitempty"`
	VideoURL          string      `json:"videoUrl,omitempty"`
	Status            SceneStatus `json:"status"`
	JobID             string      `json:"jobId,omitempty"`
	Error             string      `json:"error,omitempty"`
	HasEditedArtifact bool        `json:"hasEditedArtifact"`
}

// Artifact is one cache entry for a (kind, timestamp) pair.
type Artifact struct {
	Timestamp      float64     `json:"timestamp"`
	Prompt         string      `json:"prompt"`
	URL            string      `json:"url"`
	SourceImageURL string      `json:"imageUrl,omitempty"` // video only: the still the clip was animated from
	AudioDuration  float64     `json:"audioDuration,omitempty"`
	Status         SceneStatus `json:"status"`
	JobID          string      `json:"jobId,omitempty"`
	Error          string      `json:"error,omitempty"`
	Edited         bool        `json:"edited,omitempty"`
	GeneratedAt    int64       `json:"generatedAt"` // unix millis
}

// Ready reports whether the entry holds a finished artifact that can
// short-circuit regeneration.
func (a *Artifact) Ready() bool {
	return a != nil && a.Status == SceneStatusCompleted && a.URL != ""
}

// OriginalArtifact is written once, before the first character edit
// overwrites a scene's image.
type OriginalArtifact struct {
	Timestamp   float64 `json:"timestamp"`
	OriginalURL string  `json:"originalImageUrl"`
	EditedURL   string  `json:"editedImageUrl"`
	SavedAt     int64   `json:"savedAt"`
}

type StoryboardItem struct {
	Timestamp float64 `json:"timestamp"`
	Prompt    string  `json:"prompt"`
	Duration  float64 `json:"duration,omitempty"`
}

type Storyboard struct {
	TrackID       uuid.UUID        `json:"trackId"`
	Items         []StoryboardItem `json:"items"`
	AudioFileName string           `json:"audioFileName"`
	AudioURL      string           `json:"audioFileUrl,omitempty"`
	CachedAt      int64            `json:"cachedAt"`
}

type StitchedVideo struct {
	TrackID       uuid.UUID    `json:"trackId"`
	JobID         uuid.UUID    `json:"jobId"`
	VideoURL      string       `json:"videoUrl,omitempty"`
	AudioURL      string       `json:"audioUrl"`
	SceneCount    int          `json:"sceneCount"`
	TotalDuration float64      `json:"totalDuration"`
	Status        StitchStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	StitchedAt    int64        `json:"stitchedAt"`
}

// Track is an analysed audio upload.
type Track struct {
	ID              uuid.UUID `json:"id"`
	FileName        string    `json:"file_name"`
	AudioURL        *string   `json:"audio_url,omitempty"`
	Sensitivity     float64   `json:"sensitivity"`
	Tempo           float64   `json:"tempo"`
	OverallEnergy   float64   `json:"overall_energy"`
	DurationSeconds float64   `json:"duration_seconds"`
	Analysis        JSONB     `json:"analysis"` // beats + per-beat features
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProgressEvent is one entry of a generation run's progress stream.
// A Done event terminates the stream and carries no scene data.
type ProgressEvent struct {
	Index     int          `json:"index"`
	Timestamp float64      `json:"timestamp"`
	Kind      ArtifactKind `json:"-"`
	Status    SceneStatus  `json:"status"`
	ImageURL  string       `json:"imageUrl,omitempty"`
	VideoURL  string       `json:"videoUrl,omitempty"`
	JobID     string       `json:"jobId,omitempty"`
	Error     string       `json:"error,omitempty"`
	Cached    bool         `json:"cached,omitempty"`
	Done      bool         `json:"-"`
}

// URL returns whichever artifact URL the event carries.
func (e ProgressEvent) URL() string {
	if e.VideoURL != "" {
		return e.VideoURL
	}
	return e.ImageURL
}

// DTOs for API requests and responses

type ScenePrompt struct {
	Timestamp     float64 `json:"timestamp"`
	Prompt        string  `json:"prompt"`
	ImageURL      string  `json:"imageUrl,omitempty"`
	AudioDuration float64 `json:"audioDuration,omitempty"`
}

type GenerateRequest struct {
	Prompts []ScenePrompt `json:"prompts"`
}

type CharacterEditRequest struct {
	SceneImageURL        string `json:"sceneImageUrl"`
	CharacterImageBase64 string `json:"characterImageBase64"`
	Prompt               string `json:"prompt"`
}

type RevertRequest struct {
	Prompt string `json:"prompt"`
}

type StitchRequest struct {
	VideoURLs []string `json:"videoUrls,omitempty"` // empty = all completed cached videos in timestamp order
	AudioURL  string   `json:"audioUrl,omitempty"`  // empty = the track's uploaded audio
}

type TrackResponse struct {
	Track
	Scenes []Scene `json:"scenes,omitempty"`
}

type CachedArtifactsResponse struct {
	Cached    bool       `json:"cached"`
	Artifacts []Artifact `json:"artifacts"`
}
