package jobs

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/bobarin/beatframe/internal/models"
)

// Dispatcher submits generation requests of one artifact kind.
type Dispatcher struct {
	renderer Renderer
	kind     models.ArtifactKind
}

// NewDispatcher creates a dispatcher bound to a renderer endpoint.
func NewDispatcher(renderer Renderer, kind models.ArtifactKind) *Dispatcher {
	return &Dispatcher{renderer: renderer, kind: kind}
}

// Submit sends one request and returns the provider's job id.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (string, error) {
	req.Kind = d.kind
	if strings.TrimSpace(req.Input.Prompt) == "" {
		return "", &SubmissionError{Kind: d.kind, Err: &models.ValidationError{Field: "prompt", Reason: "must not be empty"}}
	}
	if d.kind == models.ArtifactKindVideo && req.Input.Image == "" {
		return "", &SubmissionError{Kind: d.kind, Err: &models.ValidationError{Field: "image", Reason: "video generation needs a source image"}}
	}

	id, err := d.renderer.Submit(ctx, req)
	if err != nil {
		return "", &SubmissionError{Kind: d.kind, Err: err}
	}
	if id == "" {
		return "", &SubmissionError{Kind: d.kind, Err: errors.New("no job id in response")}
	}

	log.Printf("[Jobs] Submitted %s job %s (prompt: %s)", d.kind, id, Truncate(req.Input.Prompt, 60))
	return id, nil
}
