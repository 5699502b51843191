package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/bobarin/beatframe/internal/models"
)

// SubmissionError means the provider never accepted the job.
type SubmissionError struct {
	Kind models.ArtifactKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s job submission failed: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// JobFailedError is a provider-reported failure. Not retried.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// JobTimedOutError means the attempt budget ran out before a terminal status.
type JobTimedOutError struct {
	JobID    string
	Attempts int
	LastErr  error // last status-check error, if the final attempts were failing
}

func (e *JobTimedOutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("job %s timed out after %d attempts (last error: %v)", e.JobID, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("job %s timed out after %d attempts", e.JobID, e.Attempts)
}

func (e *JobTimedOutError) Unwrap() error { return e.LastErr }

// MissingArtifactURLError means the provider reported COMPLETED but no known
// output shape held a URL. Kept distinct from JobFailedError: the job may
// well have succeeded.
type MissingArtifactURLError struct {
	JobID  string
	Output string
}

func (e *MissingArtifactURLError) Error() string {
	return fmt.Sprintf("job %s completed but no artifact URL found in output: %s", e.JobID, e.Output)
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, Truncate(e.Body, 200))
}

type errorClass int

const (
	classTransient errorClass = iota
	classRateLimited
	classPermanent
)

// classify decides how a failed status check is retried. Network errors,
// including a per-request deadline, are transient; HTTP errors are split by
// code. Callers check their own ctx before classifying.
func classify(err error) errorClass {
	if errors.Is(err, context.Canceled) {
		return classPermanent
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return classTransient
	}
	switch {
	case httpErr.StatusCode == http.StatusTooManyRequests:
		return classRateLimited
	case httpErr.StatusCode == http.StatusRequestTimeout, httpErr.StatusCode >= 500:
		return classTransient
	default:
		return classPermanent
	}
}

// Truncate limits s to at most maxLen bytes for log output, cutting on a
// rune boundary.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
