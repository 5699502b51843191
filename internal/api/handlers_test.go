package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/beatframe/internal/audio"
	"github.com/bobarin/beatframe/internal/cache"
	"github.com/bobarin/beatframe/internal/db"
	"github.com/bobarin/beatframe/internal/jobs"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/pipeline"
	"github.com/bobarin/beatframe/internal/queue"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTracks struct {
	mu     sync.Mutex
	tracks map[uuid.UUID]*models.Track
	scenes map[uuid.UUID][]models.Scene
}

func newFakeTracks() *fakeTracks {
	return &fakeTracks{tracks: map[uuid.UUID]*models.Track{}, scenes: map[uuid.UUID][]models.Scene{}}
}

func (f *fakeTracks) CreateTrack(ctx context.Context, t *models.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	f.tracks[t.ID] = &cp
	return nil
}

func (f *fakeTracks) GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[id]
	if !ok {
		return nil, fmt.Errorf("track %s: %w", id, db.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTracks) ListTracks(ctx context.Context, limit, offset int) ([]models.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Track
	for _, t := range f.tracks {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTracks) ReplaceScenes(ctx context.Context, trackID uuid.UUID, scenes []models.Scene) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes[trackID] = append([]models.Scene(nil), scenes...)
	return nil
}

func (f *fakeTracks) UpsertScene(ctx context.Context, trackID uuid.UUID, scene models.Scene) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.scenes[trackID]
	for i := range list {
		if list[i].Timestamp == scene.Timestamp {
			list[i] = scene
			return nil
		}
	}
	list = append(list, scene)
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp < list[j].Timestamp })
	f.scenes[trackID] = list
	return nil
}

func (f *fakeTracks) ListScenes(ctx context.Context, trackID uuid.UUID) ([]models.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Scene(nil), f.scenes[trackID]...), nil
}

func (f *fakeTracks) DeleteScenes(ctx context.Context, trackID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scenes, trackID)
	return nil
}

// fakeRenderer completes every job on its first status check.
type fakeRenderer struct {
	mu      sync.Mutex
	kind    string
	submits int
}

func (f *fakeRenderer) Submit(ctx context.Context, req jobs.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return fmt.Sprintf("%s-%d", f.kind, f.submits), nil
}

func (f *fakeRenderer) Status(ctx context.Context, jobID string) (*jobs.StatusResponse, error) {
	out, _ := json.Marshal(map[string]string{"result": "https://cdn.test/" + jobID})
	return &jobs.StatusResponse{ID: jobID, Status: jobs.StatusCompleted, Output: out}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func (s *fakeStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[path] = data
	return nil
}

func (s *fakeStorage) GetPublicURL(path string) string {
	return "https://storage.test/" + path
}

// fakeDecoder returns a click track: a loud 100ms burst every second.
type fakeDecoder struct {
	dir string
}

func (d *fakeDecoder) DecodePCM(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	samples := make([]float32, 8*sampleRate)
	for sec := 2; sec < 8; sec++ {
		start := sec * sampleRate
		for i := 0; i < sampleRate/10; i++ {
			if i%2 == 0 {
				samples[start+i] = 0.9
			} else {
				samples[start+i] = -0.9
			}
		}
	}
	for i := range samples {
		if samples[i] == 0 {
			samples[i] = 0.01
		}
	}
	return samples, nil
}

func (d *fakeDecoder) CreateTempFile(name string) string { return filepath.Join(d.dir, name) }

func (d *fakeDecoder) Cleanup(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

type fakePrompts struct{}

func (fakePrompts) GenerateScenePrompts(ctx context.Context, name string, c audio.Characteristics) ([]models.StoryboardItem, error) {
	if len(c.Beats) == 0 {
		return nil, &models.ValidationError{Field: "beats", Reason: "no beats detected in track"}
	}
	items := make([]models.StoryboardItem, len(c.Beats))
	for i, b := range c.Beats {
		items[i] = models.StoryboardItem{Timestamp: b.Time, Prompt: fmt.Sprintf("scene %d", i)}
	}
	return items, nil
}

type testEnv struct {
	server  *httptest.Server
	tracks  *fakeTracks
	cache   *cache.Cache
	queue   *queue.MemoryQueue
	images  *fakeRenderer
	storage *fakeStorage
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	c := cache.New(cache.NewMemoryStore(), cache.DefaultTTLs())
	stor := &fakeStorage{uploads: map[string][]byte{}}
	p := pipeline.New(c, pipeline.WithSceneDelay(0), pipeline.WithUploader(stor))

	images := &fakeRenderer{kind: "img"}
	fast := jobs.RetryPolicy{MaxAttempts: 3, MaxRetries: 1}
	p.Register(models.ArtifactKindImage, images, fast)
	p.Register(models.ArtifactKindVideo, &fakeRenderer{kind: "vid"}, fast)
	p.Register(models.ArtifactKindEdit, &fakeRenderer{kind: "edit"}, fast)

	env := &testEnv{
		tracks:  newFakeTracks(),
		cache:   c,
		queue:   queue.NewMemoryQueue(8),
		images:  images,
		storage: stor,
	}
	h := NewHandler(Deps{
		Tracks:             env.tracks,
		Pipeline:           p,
		Queue:              env.queue,
		Storage:            stor,
		Decoder:            &fakeDecoder{dir: t.TempDir()},
		Prompts:            fakePrompts{},
		DefaultSensitivity: 1,
	})
	env.server = httptest.NewServer(NewRouter(h, RouterConfig{BackendAPIKey: apiKey}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) seedTrack(t *testing.T) *models.Track {
	t.Helper()
	audioURL := "https://storage.test/track.mp3"
	track := &models.Track{ID: uuid.New(), FileName: "track.mp3", AudioURL: &audioURL, Sensitivity: 1, DurationSeconds: 9}
	if err := e.tracks.CreateTrack(context.Background(), track); err != nil {
		t.Fatal(err)
	}
	return track
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// sseEvents splits an SSE body into its data payloads.
func sseEvents(t *testing.T, body io.Reader) []string {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, frame := range strings.Split(string(raw), "\n\n") {
		if frame == "" {
			continue
		}
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("malformed frame %q", frame)
		}
		out = append(out, strings.TrimPrefix(frame, "data: "))
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthAndAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	if resp := env.do(t, "GET", "/health", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	}
	if resp := env.do(t, "GET", "/v1/tracks", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", env.server.URL+"/v1/tracks", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("wrong key: expected 403, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", env.server.URL+"/v1/tracks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer key: expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateTrackThenGeneratePrompts(t *testing.T) {
	env := newTestEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "song.wav")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("RIFF....WAVE"))
	mw.WriteField("sensitivity", "1")
	mw.Close()

	resp, err := http.Post(env.server.URL+"/v1/tracks", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	var created models.TrackResponse
	decodeBody(t, resp, &created)
	if created.FileName != "song.wav" || created.DurationSeconds != 8 {
		t.Errorf("unexpected track %+v", created.Track)
	}
	if created.AudioURL == nil || !strings.HasSuffix(*created.AudioURL, "/audio.wav") {
		t.Errorf("expected uploaded audio url, got %v", created.AudioURL)
	}
	if _, ok := env.storage.uploads["tracks/"+created.ID.String()+"/audio.wav"]; !ok {
		t.Error("expected audio upload under the track path")
	}

	resp = env.do(t, "POST", "/v1/tracks/"+created.ID.String()+"/prompts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prompts: expected 200, got %d", resp.StatusCode)
	}
	var sb storyboardResponse
	decodeBody(t, resp, &sb)
	if sb.Storyboard == nil || len(sb.Storyboard.Items) == 0 {
		t.Fatalf("expected storyboard items, got %+v", sb)
	}
	if len(env.tracks.scenes[created.ID]) != len(sb.Storyboard.Items) {
		t.Errorf("expected scenes persisted for every item")
	}
}

func TestStreamImagesFromStoryboard(t *testing.T) {
	env := newTestEnv(t, "")
	track := env.seedTrack(t)
	base := "/v1/tracks/" + track.ID.String()

	resp := env.do(t, "PUT", base+"/storyboard", models.Storyboard{Items: []models.StoryboardItem{
		{Timestamp: 5, Prompt: "chorus"},
		{Timestamp: 0, Prompt: "intro"},
	}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put storyboard: expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", base+"/images/stream", nil)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q (status %d)", ct, resp.StatusCode)
	}
	events := sseEvents(t, resp.Body)

	// queued, processing, completed per scene, then the terminator
	if len(events) != 7 || events[6] != "[DONE]" {
		t.Fatalf("unexpected events %v", events)
	}
	var last models.ProgressEvent
	if err := json.Unmarshal([]byte(events[5]), &last); err != nil {
		t.Fatal(err)
	}
	if last.Index != 1 || last.Timestamp != 5 || last.Status != models.SceneStatusCompleted || last.ImageURL != "https://cdn.test/img-2" {
		t.Errorf("unexpected final scene event %+v", last)
	}

	scenes := env.tracks.scenes[track.ID]
	if len(scenes) != 2 || scenes[0].ImageURL != "https://cdn.test/img-1" || scenes[1].Status != models.SceneStatusCompleted {
		t.Errorf("expected scenes updated from the stream, got %+v", scenes)
	}

	// A second run is served entirely from cache.
	resp = env.do(t, "POST", base+"/images/stream", nil)
	events = sseEvents(t, resp.Body)
	if len(events) != 3 || env.images.submits != 2 {
		t.Errorf("expected cached replay without submits, got %v (%d submits)", events, env.images.submits)
	}

	resp = env.do(t, "GET", base+"/images", nil)
	var listed models.CachedArtifactsResponse
	decodeBody(t, resp, &listed)
	if !listed.Cached || len(listed.Artifacts) != 2 {
		t.Errorf("unexpected cached artifacts %+v", listed)
	}
}

func TestStreamValidationIsPlainJSON(t *testing.T) {
	env := newTestEnv(t, "")
	track := env.seedTrack(t)

	resp := env.do(t, "POST", "/v1/tracks/"+track.ID.String()+"/images/stream", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty scene list, got %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/v1/tracks/"+track.ID.String()+"/videos/stream", models.GenerateRequest{
		Prompts: []models.ScenePrompt{{Timestamp: 0, Prompt: "no image"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for video scene without image, got %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/v1/tracks/"+uuid.New().String()+"/images/stream", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown track, got %d", resp.StatusCode)
	}
}

func TestStoryboardLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	track := env.seedTrack(t)
	base := "/v1/tracks/" + track.ID.String() + "/storyboard"

	if resp := env.do(t, "GET", base, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before any storyboard, got %d", resp.StatusCode)
	}

	bad := models.Storyboard{Items: []models.StoryboardItem{{Timestamp: 1, Prompt: "a"}, {Timestamp: 1, Prompt: "b"}}}
	if resp := env.do(t, "PUT", base, bad); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate timestamps, got %d", resp.StatusCode)
	}

	good := models.Storyboard{Items: []models.StoryboardItem{{Timestamp: 0, Prompt: "a"}, {Timestamp: 2.5, Prompt: "b"}}}
	env.do(t, "PUT", base, good)

	resp := env.do(t, "GET", base, nil)
	var got storyboardResponse
	decodeBody(t, resp, &got)
	if !got.Cached || len(got.Storyboard.Items) != 2 || got.Storyboard.Items[0].Duration != 2.5 {
		t.Errorf("unexpected cached storyboard %+v", got)
	}

	// Expired cache falls back to the scenes table.
	env.cache.Track(track.ID).ClearStoryboard(context.Background())
	resp = env.do(t, "GET", base, nil)
	got = storyboardResponse{}
	decodeBody(t, resp, &got)
	if got.Cached || len(got.Storyboard.Items) != 2 {
		t.Errorf("expected storyboard rebuilt from scenes, got %+v", got)
	}

	env.do(t, "DELETE", base, nil)
	if resp := env.do(t, "GET", base, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRevertWithoutOriginal(t *testing.T) {
	env := newTestEnv(t, "")
	track := env.seedTrack(t)

	resp := env.do(t, "POST", "/v1/tracks/"+track.ID.String()+"/scenes/2.5/revert", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/v1/tracks/"+track.ID.String()+"/scenes/-1/revert", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative timestamp, got %d", resp.StatusCode)
	}
}

func TestCharacterEditThenRevert(t *testing.T) {
	env := newTestEnv(t, "")
	track := env.seedTrack(t)
	base := "/v1/tracks/" + track.ID.String() + "/scenes/0"

	edit := models.CharacterEditRequest{
		SceneImageURL:        "https://cdn.test/original.png",
		CharacterImageBase64: "data:image/png;base64,iVBORw0KGgo=",
		Prompt:               "add the singer",
	}
	resp := env.do(t, "POST", base+"/character", edit)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("edit: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var edited models.Artifact
	decodeBody(t, resp, &edited)
	if !edited.Edited || edited.URL != "https://cdn.test/edit-1" {
		t.Errorf("unexpected edited artifact %+v", edited)
	}

	resp = env.do(t, "POST", base+"/revert", models.RevertRequest{Prompt: "intro"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revert: expected 200, got %d", resp.StatusCode)
	}
	var reverted models.Artifact
	decodeBody(t, resp, &reverted)
	if reverted.Edited || reverted.URL != "https://cdn.test/original.png" {
		t.Errorf("unexpected reverted artifact %+v", reverted)
	}
}

func TestStitchEnqueuesOnce(t *testing.T) {
	env := newTestEnv(t, "")
	track := env.seedTrack(t)
	base := "/v1/tracks/" + track.ID.String() + "/stitch"

	if resp := env.do(t, "POST", base, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without completed videos, got %d", resp.StatusCode)
	}

	sc := env.cache.Track(track.ID)
	ctx := context.Background()
	sc.Upsert(ctx, models.ArtifactKindVideo, models.Artifact{Timestamp: 3, URL: "https://cdn.test/b.mp4", Status: models.SceneStatusCompleted})
	sc.Upsert(ctx, models.ArtifactKindVideo, models.Artifact{Timestamp: 0, URL: "https://cdn.test/a.mp4", Status: models.SceneStatusCompleted})
	sc.Upsert(ctx, models.ArtifactKindVideo, models.Artifact{Timestamp: 6, Status: models.SceneStatusFailed})

	resp := env.do(t, "POST", base, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var record models.StitchedVideo
	decodeBody(t, resp, &record)
	if record.Status != models.StitchStatusProcessing || record.SceneCount != 2 {
		t.Errorf("unexpected record %+v", record)
	}

	job, err := env.queue.Dequeue(ctx, queue.QueueStitch, time.Second)
	if err != nil || job == nil {
		t.Fatalf("expected queued job, got %v, %v", job, err)
	}
	if job.ID != record.JobID || strings.Join(job.VideoURLs, ",") != "https://cdn.test/a.mp4,https://cdn.test/b.mp4" {
		t.Errorf("unexpected job %+v", job)
	}
	if job.AudioURL != *track.AudioURL {
		t.Errorf("expected track audio, got %q", job.AudioURL)
	}

	if resp := env.do(t, "POST", base, nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while processing, got %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", base, nil)
	var got models.StitchedVideo
	decodeBody(t, resp, &got)
	if got.JobID != record.JobID {
		t.Errorf("unexpected stitched record %+v", got)
	}
}
