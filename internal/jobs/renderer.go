// Package jobs submits generation requests to an asynchronous, job-based
// rendering provider and polls them to a terminal state.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/bobarin/beatframe/internal/models"
)

// ProviderStatus is the status enum reported by GET status/{id}.
type ProviderStatus string

const (
	StatusInQueue    ProviderStatus = "IN_QUEUE"
	StatusInProgress ProviderStatus = "IN_PROGRESS"
	StatusCompleted  ProviderStatus = "COMPLETED"
	StatusFailed     ProviderStatus = "FAILED"
	StatusCancelled  ProviderStatus = "CANCELLED"
	StatusTimedOut   ProviderStatus = "TIMED_OUT"
)

// Renderer is the provider capability consumed by the dispatcher and poller.
// Implementations return *HTTPError for non-2xx responses so the poller can
// tell rate limits and server faults from permanent rejections.
type Renderer interface {
	Submit(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, jobID string) (*StatusResponse, error)
}

// Request is one generation request.
type Request struct {
	Kind  models.ArtifactKind `json:"-"`
	Input Input               `json:"input"`
}

// Input is the provider's {input: {...}} body.
type Input struct {
	Prompt                string   `json:"prompt"`
	NegativePrompt        string   `json:"negative_prompt,omitempty"`
	Size                  string   `json:"size,omitempty"`
	Seed                  int      `json:"seed"`
	Image                 string   `json:"image,omitempty"`  // image-to-video source frame
	Images                []string `json:"images,omitempty"` // edit: scene + reference images
	Duration              int      `json:"duration,omitempty"`
	EnablePromptExpansion *bool    `json:"enable_prompt_expansion,omitempty"`
	EnableSafetyChecker   bool     `json:"enable_safety_checker"`
}

// StatusResponse is the provider's status payload. Output is kept raw; its
// shape varies by model and is resolved by ExtractArtifactURL.
type StatusResponse struct {
	ID     string          `json:"id"`
	Status ProviderStatus  `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}
