package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/beatframe/internal/models"
)

// Result is a completed job's artifact.
type Result struct {
	JobID    string
	URL      string
	Shape    OutputShape
	Attempts int
	Elapsed  time.Duration
}

// Poller drives a submitted job to a terminal state.
type Poller struct {
	renderer Renderer
	kind     models.ArtifactKind
	policy   RetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller. An invalid policy falls back to the kind's
// default.
func NewPoller(renderer Renderer, kind models.ArtifactKind, policy RetryPolicy) *Poller {
	if err := policy.Validate(); err != nil {
		log.Printf("[Jobs] Invalid %s retry policy (%v), using defaults", kind, err)
		policy = PolicyFor(kind)
	}
	return &Poller{renderer: renderer, kind: kind, policy: policy, sleep: sleepCtx}
}

// Policy returns the poller's retry policy.
func (p *Poller) Policy() RetryPolicy {
	return p.policy
}

// Poll checks the job every Interval until it completes, fails, or the
// attempt budget runs out. Each attempt is exactly one successful status
// check, or one check that kept failing through MaxRetries retries.
func (p *Poller) Poll(ctx context.Context, jobID string) (Result, error) {
	job := newJob(jobID, p.kind)
	_ = job.advance(StatePolling)

	var lastErr error
	for job.Attempts < p.policy.MaxAttempts {
		job.Attempts++

		if err := p.sleep(ctx, p.policy.Interval); err != nil {
			return Result{}, fmt.Errorf("polling job %s cancelled: %w", jobID, err)
		}

		resp, err := p.check(ctx, jobID, job.Attempts)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("polling job %s cancelled: %w", jobID, ctx.Err())
			}
			lastErr = err
			log.Printf("[Jobs] %s job %s poll %d/%d failed: %v", p.kind, jobID, job.Attempts, p.policy.MaxAttempts, err)
			continue
		}
		lastErr = nil

		switch resp.Status {
		case StatusCompleted:
			artifact, ok := ExtractArtifactURL(p.kind, resp.Output)
			if !ok {
				_ = job.advance(StateFailed)
				log.Printf("[Jobs] %s job %s completed without a URL: %s", p.kind, jobID, Truncate(string(resp.Output), 200))
				return Result{}, &MissingArtifactURLError{JobID: jobID, Output: Truncate(string(resp.Output), 500)}
			}
			_ = job.advance(StateCompleted)
			log.Printf("[Jobs] %s job %s completed after %d polls (%s output)", p.kind, jobID, job.Attempts, artifact.Shape)
			return Result{
				JobID:    jobID,
				URL:      artifact.URL,
				Shape:    artifact.Shape,
				Attempts: job.Attempts,
				Elapsed:  time.Since(job.StartedAt),
			}, nil

		case StatusFailed, StatusCancelled, StatusTimedOut:
			_ = job.advance(StateFailed)
			msg := resp.Error
			if msg == "" {
				msg = fmt.Sprintf("provider reported %s", resp.Status)
			}
			log.Printf("[Jobs] %s job %s failed: %s", p.kind, jobID, msg)
			return Result{}, &JobFailedError{JobID: jobID, Message: msg}

		default:
			if job.Attempts%10 == 0 {
				log.Printf("[Jobs] %s job %s still %s (poll %d/%d)", p.kind, jobID, resp.Status, job.Attempts, p.policy.MaxAttempts)
			}
		}
	}

	_ = job.advance(StateTimedOut)
	log.Printf("[Jobs] %s job %s timed out after %d polls", p.kind, jobID, job.Attempts)
	return Result{}, &JobTimedOutError{JobID: jobID, Attempts: job.Attempts, LastErr: lastErr}
}

// check performs one attempt's status request with in-attempt retries.
func (p *Poller) check(ctx context.Context, jobID string, attempt int) (*StatusResponse, error) {
	for retry := 0; ; retry++ {
		resp, err := p.renderer.Status(ctx, jobID)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		class := classify(err)
		if class == classPermanent || retry >= p.policy.MaxRetries {
			return nil, err
		}

		delay := p.policy.retryDelay(retry + 1)
		if class == classRateLimited {
			delay = p.policy.RateLimitDelay
			log.Printf("[Jobs] Rate limited on %s job %s (poll %d), waiting %s", p.kind, jobID, attempt, delay)
		} else {
			log.Printf("[Jobs] Status check for %s job %s failed (poll %d, retry %d/%d), retrying in %s: %v",
				p.kind, jobID, attempt, retry+1, p.policy.MaxRetries, delay, err)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Run submits a request and polls it to completion.
func Run(ctx context.Context, d *Dispatcher, p *Poller, req Request) (Result, error) {
	jobID, err := d.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return p.Poll(ctx, jobID)
}
