// Package pipeline runs generation across all scenes of a storyboard,
// resuming from cached results and reporting per-scene progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/beatframe/internal/cache"
	"github.com/bobarin/beatframe/internal/jobs"
	"github.com/bobarin/beatframe/internal/models"
)

// DefaultSceneDelay spaces provider submissions.
const DefaultSceneDelay = time.Second

// ErrStreamConsumed is reported when a progress sequence is iterated twice.
var ErrStreamConsumed = errors.New("progress stream already consumed")

// ProgressSink receives progress events in order. A returned error stops the
// run; the current job is abandoned, not cancelled remotely.
type ProgressSink interface {
	Send(ctx context.Context, ev models.ProgressEvent) error
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, ev models.ProgressEvent) error

func (f SinkFunc) Send(ctx context.Context, ev models.ProgressEvent) error {
	return f(ctx, ev)
}

// Request is one generation run over a track's scenes.
type Request struct {
	TrackID uuid.UUID
	Kind    models.ArtifactKind
	Scenes  []models.ScenePrompt
}

type backend struct {
	dispatcher *jobs.Dispatcher
	poller     *jobs.Poller
}

// Pipeline generates artifacts scene by scene, sequentially.
type Pipeline struct {
	backends   map[models.ArtifactKind]backend
	cache      *cache.Cache
	style      Style
	sceneDelay time.Duration
	uploader   Uploader
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithStyle(s Style) Option {
	return func(p *Pipeline) { p.style = s }
}

func WithSceneDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.sceneDelay = d }
}

func WithUploader(u Uploader) Option {
	return func(p *Pipeline) { p.uploader = u }
}

func New(c *cache.Cache, opts ...Option) *Pipeline {
	p := &Pipeline{
		backends:   make(map[models.ArtifactKind]backend),
		cache:      c,
		style:      DefaultStyle(),
		sceneDelay: DefaultSceneDelay,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a renderer and retry policy to an artifact kind.
func (p *Pipeline) Register(kind models.ArtifactKind, renderer jobs.Renderer, policy jobs.RetryPolicy) {
	p.backends[kind] = backend{
		dispatcher: jobs.NewDispatcher(renderer, kind),
		poller:     jobs.NewPoller(renderer, kind, policy),
	}
}

// Cache exposes the scene cache the pipeline writes through.
func (p *Pipeline) Cache() *cache.Cache {
	return p.cache
}

// Validate checks a request before any event or cache write happens.
func (p *Pipeline) Validate(req Request) error {
	if req.Kind != models.ArtifactKindImage && req.Kind != models.ArtifactKindVideo {
		return &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", req.Kind)}
	}
	if _, ok := p.backends[req.Kind]; !ok {
		return fmt.Errorf("no renderer registered for %s generation", req.Kind)
	}
	if len(req.Scenes) == 0 {
		return &models.ValidationError{Field: "prompts", Reason: "at least one scene is required"}
	}
	for i, sc := range req.Scenes {
		if sc.Timestamp < 0 {
			return &models.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("scene %d has negative timestamp", i)}
		}
		if i > 0 && sc.Timestamp <= req.Scenes[i-1].Timestamp {
			return &models.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("scene %d timestamp %v is not after %v", i, sc.Timestamp, req.Scenes[i-1].Timestamp)}
		}
		if strings.TrimSpace(sc.Prompt) == "" {
			return &models.ValidationError{Field: "prompt", Reason: fmt.Sprintf("scene %d has an empty prompt", i)}
		}
		if req.Kind == models.ArtifactKindVideo && sc.ImageURL == "" {
			return &models.ValidationError{Field: "imageUrl", Reason: fmt.Sprintf("scene %d has no source image", i)}
		}
	}
	return nil
}

// Stream validates req and returns its progress sequence. Scenes are
// processed lazily as the sequence is consumed; breaking out of the loop
// stops the run. The sequence can be iterated once.
func (p *Pipeline) Stream(ctx context.Context, req Request) (iter.Seq[models.ProgressEvent], error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}
	var used atomic.Bool
	return func(yield func(models.ProgressEvent) bool) {
		if !used.CompareAndSwap(false, true) {
			log.Printf("[Pipeline] %v for track %s", ErrStreamConsumed, req.TrackID)
			return
		}
		p.run(ctx, req, yield)
	}, nil
}

// Run drives a full generation run into sink, ending with the Done event.
func (p *Pipeline) Run(ctx context.Context, req Request, sink ProgressSink) error {
	seq, err := p.Stream(ctx, req)
	if err != nil {
		return err
	}
	var sendErr error
	for ev := range seq {
		if sendErr = sink.Send(ctx, ev); sendErr != nil {
			break
		}
	}
	if sendErr != nil {
		return fmt.Errorf("failed to send progress: %w", sendErr)
	}
	return ctx.Err()
}

func (p *Pipeline) run(ctx context.Context, req Request, yield func(models.ProgressEvent) bool) {
	sc := p.cache.Track(req.TrackID)
	b := p.backends[req.Kind]
	total := len(req.Scenes)

	log.Printf("[Pipeline] Starting %s generation for track %s: %d scenes", req.Kind, req.TrackID, total)
	start := p.now()
	var generated, cached, failed int

	for i, scene := range req.Scenes {
		if ctx.Err() != nil {
			log.Printf("[Pipeline] Run for track %s cancelled at scene %d/%d", req.TrackID, i+1, total)
			return
		}

		if hit := p.cachedArtifact(ctx, sc, req.Kind, scene); hit != nil {
			cached++
			log.Printf("[Pipeline] Scene %d/%d (%ss) served from cache", i+1, total, models.FormatTimestamp(scene.Timestamp))
			ev := p.event(req.Kind, i, scene.Timestamp, models.SceneStatusCompleted)
			setURL(&ev, req.Kind, hit.URL)
			ev.JobID = hit.JobID
			ev.Cached = true
			if !yield(ev) {
				return
			}
			continue
		}

		ok, keepGoing := p.generate(ctx, sc, b, req.Kind, i, scene, total, yield)
		if !keepGoing {
			return
		}
		if ok {
			generated++
		} else {
			failed++
		}

		if i < total-1 {
			if err := p.sleep(ctx, p.sceneDelay); err != nil {
				return
			}
		}
	}

	log.Printf("[Pipeline] %s generation for track %s finished in %s: %d generated, %d cached, %d failed",
		req.Kind, req.TrackID, p.now().Sub(start).Round(time.Second), generated, cached, failed)
	yield(models.ProgressEvent{Kind: req.Kind, Done: true})
}

// generate runs one scene through submit and poll. It reports whether the
// scene completed and whether the run should continue.
func (p *Pipeline) generate(ctx context.Context, sc *cache.SceneCache, b backend, kind models.ArtifactKind,
	index int, scene models.ScenePrompt, total int, yield func(models.ProgressEvent) bool) (bool, bool) {

	artifact := models.Artifact{
		Timestamp:     scene.Timestamp,
		Prompt:        scene.Prompt,
		AudioDuration: scene.AudioDuration,
		Status:        models.SceneStatusQueued,
	}
	if kind == models.ArtifactKindVideo {
		artifact.SourceImageURL = scene.ImageURL
	}

	queued := p.event(kind, index, scene.Timestamp, models.SceneStatusQueued)
	p.persist(ctx, sc, kind, artifact)
	if !yield(queued) {
		return false, false
	}

	log.Printf("[Pipeline] Scene %d/%d (%ss): submitting %s job", index+1, total, models.FormatTimestamp(scene.Timestamp), kind)
	var req jobs.Request
	if kind == models.ArtifactKindVideo {
		req = p.style.videoRequest(index, scene.Prompt, scene.ImageURL, scene.AudioDuration)
	} else {
		req = p.style.imageRequest(scene.Prompt)
	}

	jobID, err := b.dispatcher.Submit(ctx, req)
	if err != nil {
		return false, p.fail(ctx, sc, kind, index, artifact, err, yield)
	}

	artifact.Status = models.SceneStatusProcessing
	artifact.JobID = jobID
	processing := p.event(kind, index, scene.Timestamp, models.SceneStatusProcessing)
	processing.JobID = jobID
	p.persist(ctx, sc, kind, artifact)
	if !yield(processing) {
		return false, false
	}

	res, err := b.poller.Poll(ctx, jobID)
	if err != nil {
		return false, p.fail(ctx, sc, kind, index, artifact, err, yield)
	}

	artifact.Status = models.SceneStatusCompleted
	artifact.URL = res.URL
	artifact.GeneratedAt = p.now().UnixMilli()
	completed := p.event(kind, index, scene.Timestamp, models.SceneStatusCompleted)
	completed.JobID = jobID
	setURL(&completed, kind, res.URL)
	p.persist(ctx, sc, kind, artifact)
	log.Printf("[Pipeline] Scene %d/%d (%ss) completed after %d polls", index+1, total, models.FormatTimestamp(scene.Timestamp), res.Attempts)
	return true, yield(completed)
}

// fail records a scene failure. Cancellation ends the run silently.
func (p *Pipeline) fail(ctx context.Context, sc *cache.SceneCache, kind models.ArtifactKind, index int,
	artifact models.Artifact, err error, yield func(models.ProgressEvent) bool) bool {

	if ctx.Err() != nil {
		return false
	}
	log.Printf("[Pipeline] Scene %d (%ss) failed: %v", index+1, models.FormatTimestamp(artifact.Timestamp), err)

	artifact.Status = models.SceneStatusFailed
	artifact.Error = err.Error()
	p.persist(ctx, sc, kind, artifact)

	ev := p.event(kind, index, artifact.Timestamp, models.SceneStatusFailed)
	ev.JobID = artifact.JobID
	ev.Error = err.Error()
	return yield(ev)
}

func (p *Pipeline) cachedArtifact(ctx context.Context, sc *cache.SceneCache, kind models.ArtifactKind, scene models.ScenePrompt) *models.Artifact {
	a, err := sc.Get(ctx, kind, scene.Timestamp)
	if err != nil {
		log.Printf("[Pipeline] Cache lookup for %s at %ss failed: %v", kind, models.FormatTimestamp(scene.Timestamp), err)
		return nil
	}
	if !a.Ready() {
		return nil
	}
	return a
}

// persist writes through the cache. Failures are logged and never abort a run.
func (p *Pipeline) persist(ctx context.Context, sc *cache.SceneCache, kind models.ArtifactKind, a models.Artifact) {
	if err := sc.Upsert(ctx, kind, a); err != nil {
		log.Printf("[Pipeline] Failed to cache %s at %ss (%s): %v", kind, models.FormatTimestamp(a.Timestamp), a.Status, err)
	}
}

func (p *Pipeline) event(kind models.ArtifactKind, index int, ts float64, status models.SceneStatus) models.ProgressEvent {
	return models.ProgressEvent{Index: index, Timestamp: ts, Kind: kind, Status: status}
}

func setURL(ev *models.ProgressEvent, kind models.ArtifactKind, url string) {
	if kind == models.ArtifactKindVideo {
		ev.VideoURL = url
		return
	}
	ev.ImageURL = url
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
