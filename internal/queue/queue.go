package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueStitch = "queue:stitch"

	JobTypeStitch = "stitch"
)

// Broker moves jobs between the API and the worker.
type Broker interface {
	Enqueue(ctx context.Context, queueName string, job *Job) error
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error)
	GetQueueLength(ctx context.Context, queueName string) (int64, error)
}

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	TrackID   uuid.UUID `json:"track_id"`
	VideoURLs []string  `json:"video_urls,omitempty"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// Client exposes the connection so the scene cache can share it.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// NewStitchJob builds a stitch job with a fresh id
func NewStitchJob(trackID uuid.UUID, videoURLs []string, audioURL string, duration float64) *Job {
	return &Job{
		ID:        uuid.New(),
		Type:      JobTypeStitch,
		TrackID:   trackID,
		VideoURLs: videoURLs,
		AudioURL:  audioURL,
		Duration:  duration,
	}
}

// EnqueueStitch enqueues a stitch job
func EnqueueStitch(ctx context.Context, b Broker, job *Job) error {
	if err := b.Enqueue(ctx, QueueStitch, job); err != nil {
		return fmt.Errorf("failed to enqueue stitch job: %w", err)
	}
	return nil
}
