package worker

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/bobarin/beatframe/internal/cache"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/queue"
	"github.com/bobarin/beatframe/internal/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultDownloadConcurrency bounds parallel clip downloads per stitch job.
const DefaultDownloadConcurrency = 4

// ObjectStore is the slice of storage the worker needs.
type ObjectStore interface {
	DownloadURL(ctx context.Context, rawURL string) ([]byte, error)
	UploadFile(ctx context.Context, storagePath, localPath, contentType string) error
	GetPublicURL(path string) string
}

// Muxer joins clips and lays the track underneath.
type Muxer interface {
	ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error
	ReplaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error
	GetMediaDuration(ctx context.Context, path string) (float64, error)
	CreateTempFile(filename string) string
	Cleanup(paths ...string)
}

type Worker struct {
	queue         queue.Broker
	cache         *cache.Cache
	storage       ObjectStore
	ffmpeg        Muxer
	downloadLimit int
	uploadSem     chan struct{} // Limits concurrent uploads across stitch jobs
}

func New(q queue.Broker, c *cache.Cache, stor ObjectStore, ffmpegSvc Muxer, downloadLimit int) *Worker {
	if downloadLimit <= 0 {
		downloadLimit = DefaultDownloadConcurrency
	}
	return &Worker{
		queue:         q,
		cache:         c,
		storage:       stor,
		ffmpeg:        ffmpegSvc,
		downloadLimit: downloadLimit,
		uploadSem:     make(chan struct{}, 2),
	}
}

// uploadWithLimit wraps an upload call with a semaphore so concurrent
// stitches don't saturate the storage connection.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	log.Printf("[Upload] %s waiting for upload slot...", label)
	select {
	case w.uploadSem <- struct{}{}:
		// Acquired slot
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	log.Printf("[Upload] %s uploading...", label)
	return fn()
}

// Start processes stitch jobs until ctx is cancelled
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("[Stitch] Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueStitch, w.handleStitch)
	}

	<-ctx.Done()
	log.Println("[Stitch] Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Stitch] Error dequeuing from %s: %v", queueName, err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("[Stitch] Processing job %s (type: %s, track: %s)", job.ID, job.Type, job.TrackID)

			if err := handler(ctx, job); err != nil {
				log.Printf("[Stitch] Job %s failed: %v", job.ID, err)
			} else {
				log.Printf("[Stitch] Job %s completed successfully", job.ID)
			}
		}
	}
}

// handleStitch downloads every clip, concatenates them, lays the track
// underneath and publishes the result as the track's stitched video.
func (w *Worker) handleStitch(ctx context.Context, job *queue.Job) error {
	sc := w.cache.Track(job.TrackID)
	record := models.StitchedVideo{
		TrackID:       job.TrackID,
		JobID:         job.ID,
		AudioURL:      job.AudioURL,
		SceneCount:    len(job.VideoURLs),
		TotalDuration: job.Duration,
		Status:        models.StitchStatusProcessing,
		StitchedAt:    time.Now().UnixMilli(),
	}
	if err := sc.SaveStitched(ctx, record); err != nil {
		log.Printf("[Stitch] Warning: failed to record processing state: %v", err)
	}

	videoURL, duration, err := w.stitch(ctx, job)
	if err != nil {
		record.Status = models.StitchStatusFailed
		record.Error = err.Error()
	} else {
		record.Status = models.StitchStatusCompleted
		record.VideoURL = videoURL
		if duration > 0 {
			record.TotalDuration = duration
		}
	}
	record.StitchedAt = time.Now().UnixMilli()

	// The job's ctx may be gone on shutdown; the final state must still land.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if saveErr := sc.SaveStitched(saveCtx, record); saveErr != nil {
		log.Printf("[Stitch] Failed to save stitched record for %s: %v", job.TrackID, saveErr)
	}

	return err
}

func (w *Worker) stitch(ctx context.Context, job *queue.Job) (string, float64, error) {
	if len(job.VideoURLs) == 0 {
		return "", 0, fmt.Errorf("no clips to stitch")
	}
	if job.AudioURL == "" {
		return "", 0, fmt.Errorf("no audio to stitch")
	}

	clipPaths := make([]string, len(job.VideoURLs))
	audioPath := w.ffmpeg.CreateTempFile(fmt.Sprintf("audio_%s%s", job.ID, extensionOf(job.AudioURL, ".mp3")))
	defer func() {
		w.ffmpeg.Cleanup(clipPaths...)
		w.ffmpeg.Cleanup(audioPath)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.downloadLimit)

	for i, videoURL := range job.VideoURLs {
		g.Go(func() error {
			p := w.ffmpeg.CreateTempFile(fmt.Sprintf("clip_%s_%03d.mp4", job.ID, i))
			if err := w.download(gctx, videoURL, p); err != nil {
				return fmt.Errorf("failed to download clip %d: %w", i, err)
			}
			clipPaths[i] = p
			return nil
		})
	}
	g.Go(func() error {
		if err := w.download(gctx, job.AudioURL, audioPath); err != nil {
			return fmt.Errorf("failed to download audio: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", 0, err
	}
	log.Printf("[Stitch] Downloaded %d clips for track %s", len(clipPaths), job.TrackID)

	// Step 1: Concatenate all clips into one silent video
	concatPath := w.ffmpeg.CreateTempFile(fmt.Sprintf("concat_%s.mp4", job.ID))
	defer w.ffmpeg.Cleanup(concatPath)

	if err := w.ffmpeg.ConcatenateClips(ctx, clipPaths, concatPath); err != nil {
		return "", 0, fmt.Errorf("failed to concatenate clips: %w", err)
	}

	// Step 2: Lay the original track under the video
	outputPath := w.ffmpeg.CreateTempFile(fmt.Sprintf("final_%s.mp4", job.ID))
	defer w.ffmpeg.Cleanup(outputPath)

	if err := w.ffmpeg.ReplaceAudio(ctx, concatPath, audioPath, outputPath); err != nil {
		return "", 0, fmt.Errorf("failed to replace audio: %w", err)
	}

	duration, err := w.ffmpeg.GetMediaDuration(ctx, outputPath)
	if err != nil {
		log.Printf("[Stitch] Warning: could not measure stitched duration: %v", err)
		duration = 0
	}

	storagePath := storage.StitchedPath(job.TrackID, job.ID)
	if err := w.uploadWithLimit(ctx, "stitched_"+job.ID.String()[:8], func() error {
		return w.storage.UploadFile(ctx, storagePath, outputPath, "video/mp4")
	}); err != nil {
		return "", 0, fmt.Errorf("failed to upload stitched video: %w", err)
	}

	return w.storage.GetPublicURL(storagePath), duration, nil
}

func (w *Worker) download(ctx context.Context, rawURL, localPath string) error {
	data, err := w.storage.DownloadURL(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}

// extensionOf returns the file extension of a URL's path, or fallback.
func extensionOf(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
		return ext
	}
	return fallback
}
