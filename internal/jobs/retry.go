package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bobarin/beatframe/internal/models"
)

// RetryPolicy bounds one polling loop. Every artifact kind shares the same
// loop and differs only in these numbers.
type RetryPolicy struct {
	// MaxAttempts caps the number of status-check attempts.
	MaxAttempts int
	// Interval is slept before every attempt, the first included.
	Interval time.Duration
	// MaxRetries is how many times a failing check is retried within one
	// attempt before the attempt counts as failed.
	MaxRetries int
	// BaseDelay feeds Backoff.
	BaseDelay time.Duration
	// Backoff returns the wait before retry n (1-based).
	Backoff func(base time.Duration, retry int) time.Duration
	// RateLimitDelay replaces Backoff after an HTTP 429.
	RateLimitDelay time.Duration
}

// LinearBackoff waits base, 2*base, 3*base, ...
func LinearBackoff(base time.Duration, retry int) time.Duration {
	return base * time.Duration(retry)
}

// ImagePolicy: 30 checks, 3s apart; retries after 2s/4s/6s; 5s after 429.
func ImagePolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    30,
		Interval:       3 * time.Second,
		MaxRetries:     3,
		BaseDelay:      2 * time.Second,
		Backoff:        LinearBackoff,
		RateLimitDelay: 5 * time.Second,
	}
}

// VideoPolicy allows 120 checks (~6 minutes) since clips render far slower
// than stills, and backs off 10s on rate limits.
func VideoPolicy() RetryPolicy {
	p := ImagePolicy()
	p.MaxAttempts = 120
	p.RateLimitDelay = 10 * time.Second
	return p
}

// EditPolicy matches ImagePolicy; edits run on an image model.
func EditPolicy() RetryPolicy {
	return ImagePolicy()
}

// PolicyFor returns the default policy for an artifact kind.
func PolicyFor(kind models.ArtifactKind) RetryPolicy {
	switch kind {
	case models.ArtifactKindVideo:
		return VideoPolicy()
	case models.ArtifactKindEdit:
		return EditPolicy()
	default:
		return ImagePolicy()
	}
}

// Validate rejects policies that could poll forever or never poll.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("retry policy: max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry policy: max retries must not be negative, got %d", p.MaxRetries)
	}
	if p.Interval < 0 || p.BaseDelay < 0 || p.RateLimitDelay < 0 {
		return fmt.Errorf("retry policy: delays must not be negative")
	}
	return nil
}

func (p RetryPolicy) retryDelay(retry int) time.Duration {
	if p.Backoff == nil {
		return LinearBackoff(p.BaseDelay, retry)
	}
	return p.Backoff(p.BaseDelay, retry)
}

// sleepCtx waits d or until ctx is done.
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
