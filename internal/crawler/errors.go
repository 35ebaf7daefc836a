package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for a domain run. Page-level errors never abort a run.
var (
	// ErrNavigationTimeout means the render primitive did not finish in time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrHTTPFailureStatus means the page answered with a non-success status.
	ErrHTTPFailureStatus = errors.New("http failure status")
	// ErrNoUsableContent means no extraction tier produced enough text.
	ErrNoUsableContent = errors.New("no usable content")
	// ErrInvalidURL means a link or redirect target could not be resolved.
	ErrInvalidURL = errors.New("invalid url")
	// ErrRetryBudgetExhausted means an item used all of its attempts.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrDeliveryFailure means the result sink could not be reached.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrInvalidRequest means a crawl request failed validation.
	ErrInvalidRequest = errors.New("invalid crawl request")
	// ErrDomainBlocked means the requested domain is on the blocklist.
	ErrDomainBlocked = errors.New("domain blocked")
	// ErrRendererUnavailable means no render session could be opened.
	ErrRendererUnavailable = errors.New("renderer unavailable")
	// ErrQueueClosed means the run queue no longer accepts or yields work.
	ErrQueueClosed = errors.New("queue closed")
	// ErrSelectorNotFound means the rendered page had no node for a selector.
	ErrSelectorNotFound = errors.New("selector not found")
)

// StatusError reports the HTTP status of a failed page load.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to load page with status: %d", e.Code)
}

// Is lets errors.Is match ErrHTTPFailureStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPFailureStatus
}

// IsRetryable reports whether another attempt at the same page may succeed.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRetryBudgetExhausted),
		errors.Is(err, ErrInvalidURL),
		errors.Is(err, ErrNoUsableContent),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func isSuccessStatus(code int) bool {
	return (code >= 200 && code < 300) || code == http.StatusNotModified
}

func isRedirectStatus(code int) bool {
	return code >= 300 && code < 400 && code != http.StatusNotModified
}
