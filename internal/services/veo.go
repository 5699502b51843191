package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/bobarin/beatframe/internal/jobs"
	"github.com/bobarin/beatframe/internal/storage"
)

// ---------------------------------------------------------------------------
// Veo video renderer
// Adapts Google's long-running Veo operations to the submit/status renderer
// contract: the operation name is the job id, and a finished clip is copied
// to storage so downstream consumers get a plain public URL.
// ---------------------------------------------------------------------------

const defaultVeoModel = "veo-3.1-generate-preview"

// ObjectStore is the storage capability the Veo renderer needs.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	GetPublicURL(path string) string
	DownloadURL(ctx context.Context, rawURL string) ([]byte, error)
}

// VeoRenderer implements jobs.Renderer on top of the Gen AI SDK.
type VeoRenderer struct {
	client *genai.Client
	model  string
	store  ObjectStore

	// persisted maps operation name to the public URL of its stored clip.
	persisted sync.Map
}

// NewVeoRenderer creates a Veo renderer.
// apiKey: the Gemini API key
// model: the Veo model to use (empty string defaults to veo-3.1-generate-preview)
func NewVeoRenderer(ctx context.Context, apiKey, model string, store ObjectStore) (*VeoRenderer, error) {
	if model == "" {
		model = defaultVeoModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &VeoRenderer{client: client, model: model, store: store}, nil
}

// Submit starts a Veo operation using the request's source image as the
// first frame.
func (v *VeoRenderer) Submit(ctx context.Context, req jobs.Request) (string, error) {
	if req.Input.Image == "" {
		return "", fmt.Errorf("veo generation needs a source image")
	}

	imageData, err := v.store.DownloadURL(ctx, req.Input.Image)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source image: %w", err)
	}

	firstFrame := &genai.Image{
		ImageBytes: imageData,
		MIMEType:   http.DetectContentType(imageData),
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:    "16:9",
		NegativePrompt: req.Input.NegativePrompt,
		NumberOfVideos: 1,
	}

	log.Printf("[Veo] Starting video generation (model=%s, promptLen=%d, imageSize=%d bytes)", v.model, len(req.Input.Prompt), len(imageData))

	operation, err := v.client.Models.GenerateVideos(ctx, v.model, req.Input.Prompt, firstFrame, config)
	if err != nil {
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)
	return operation.Name, nil
}

// Status polls the operation once. A finished clip is downloaded, stored and
// reported as {"video_url": ...}.
func (v *VeoRenderer) Status(ctx context.Context, jobID string) (*jobs.StatusResponse, error) {
	operation, err := v.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: jobID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to poll operation: %w", err)
	}

	if !operation.Done {
		return &jobs.StatusResponse{ID: jobID, Status: jobs.StatusInProgress}, nil
	}

	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return &jobs.StatusResponse{ID: jobID, Status: jobs.StatusFailed, Error: string(errJSON)}, nil
	}

	if operation.Response == nil {
		return &jobs.StatusResponse{ID: jobID, Status: jobs.StatusFailed, Error: "no response in completed operation"}, nil
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return &jobs.StatusResponse{
			ID:     jobID,
			Status: jobs.StatusFailed,
			Error:  fmt.Sprintf("video blocked by safety filters: %s", reasons),
		}, nil
	}

	// Completed without a video: report COMPLETED with empty output so the
	// poller surfaces a missing-URL error.
	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return &jobs.StatusResponse{ID: jobID, Status: jobs.StatusCompleted}, nil
	}

	url, err := v.persist(ctx, jobID, func(ctx context.Context) ([]byte, error) {
		return v.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(operation.Response.GeneratedVideos[0].Video), nil)
	})
	if err != nil {
		return nil, err
	}
	return completedClip(jobID, url), nil
}

func completedClip(jobID, url string) *jobs.StatusResponse {
	output, _ := json.Marshal(map[string]string{"video_url": url})
	return &jobs.StatusResponse{ID: jobID, Status: jobs.StatusCompleted, Output: output}
}

// persist copies a finished clip to storage once per operation. The object
// path is derived from the operation name, so a retry after a failed upload
// overwrites the same object.
func (v *VeoRenderer) persist(ctx context.Context, operation string, fetch func(context.Context) ([]byte, error)) (string, error) {
	if url, ok := v.persisted.Load(operation); ok {
		return url.(string), nil
	}

	videoBytes, err := fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return "", fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	path := storage.RenderPath("veo", operation)
	if err := v.store.Upload(ctx, path, videoBytes, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to store generated video: %w", err)
	}

	url := v.store.GetPublicURL(path)
	v.persisted.Store(operation, url)
	log.Printf("[Veo] Video stored (%d bytes) at %s", len(videoBytes), path)
	return url, nil
}
