package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/beatframe/internal/jobs"
)

const (
	// Per-attempt timeouts. Uploads are sized for full-length stitched videos.
	uploadTimeout   = 180 * time.Second
	downloadTimeout = 120 * time.Second

	maxAttempts    = 5
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

// Storage is a Supabase Storage bucket client. Every object the service
// writes (track audio, character references, provider clips, stitched
// videos) goes through Upload and is served back by public URL.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(url, serviceKey, bucket string) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sleep: sleepCtx,
	}
}

// exchange is one HTTP round trip.
type exchange struct {
	method  string
	url     string
	body    []byte
	header  http.Header
	timeout time.Duration
}

// statusError is a non-2xx storage or CDN response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, jobs.Truncate(e.body, 200))
}

// requestError means the request could not even be built; never retried.
type requestError struct{ err error }

func (e *requestError) Error() string { return "invalid request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Upload writes data to path, replacing any existing object.
func (s *Storage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.serviceKey)
	header.Set("Content-Type", ContentTypeFor(path, contentType))
	header.Set("x-upsert", "true")

	_, err := s.send(ctx, "upload "+path, exchange{
		method:  http.MethodPut,
		url:     s.objectURL(path),
		body:    data,
		header:  header,
		timeout: uploadTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	log.Printf("[Storage] Uploaded %s (%d bytes)", path, len(data))
	return nil
}

// UploadFile uploads a local file. An empty contentType is derived from the
// storage path.
func (s *Storage) UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filepath.Base(localPath), err)
	}
	return s.Upload(ctx, storagePath, data, contentType)
}

// DownloadURL fetches any URL: renderer CDNs and public bucket URLs alike.
// The service key is only sent to this Supabase project.
func (s *Storage) DownloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	header := http.Header{}
	if strings.HasPrefix(rawURL, s.url+"/") {
		header.Set("Authorization", "Bearer "+s.serviceKey)
	}
	data, err := s.send(ctx, "download "+jobs.Truncate(rawURL, 120), exchange{
		method:  http.MethodGet,
		url:     rawURL,
		header:  header,
		timeout: downloadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	return data, nil
}

// GetPublicURL returns the public URL for a file
func (s *Storage) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, path)
}

func (s *Storage) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, path)
}

// send runs ex until it succeeds, fails permanently or runs out of attempts.
func (s *Storage) send(ctx context.Context, label string, ex exchange) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryDelay(attempt - 1)
			log.Printf("[Storage] %s: attempt %d/%d in %v after: %v", label, attempt, maxAttempts, delay, lastErr)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := s.roundTrip(ctx, ex)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Storage) roundTrip(ctx context.Context, ex exchange) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	var body io.Reader
	if ex.body != nil {
		body = bytes.NewReader(ex.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, ex.method, ex.url, body)
	if err != nil {
		return nil, &requestError{err: err}
	}
	for k, v := range ex.header {
		req.Header[k] = v
	}
	if ex.body != nil {
		req.ContentLength = int64(len(ex.body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(data)}
	}
	return data, nil
}

// retryable reports whether a failed exchange is worth another attempt.
// Transport errors are; of the HTTP errors only throttling, timeouts and
// gateway failures are.
func retryable(err error) bool {
	var re *requestError
	if errors.As(err, &re) {
		return false
	}
	var se *statusError
	if !errors.As(err, &se) {
		return true
	}
	switch se.code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryDelay doubles from baseRetryDelay up to maxRetryDelay, plus up to 25% jitter.
func retryDelay(retry int) time.Duration {
	d := baseRetryDelay << (retry - 1)
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
