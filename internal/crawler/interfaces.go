package crawler

import (
	"context"
	"time"
)

// RenderRequest asks the render primitive for one page.
type RenderRequest struct {
	URL                  string
	Timeout              time.Duration
	Selectors            []string
	BlockedResourceTypes []string
}

// RenderedPage is what the render primitive observed for one navigation.
// Texts maps each requested selector that matched to its innerText.
type RenderedPage struct {
	FinalURL   string
	StatusCode int
	Location   string
	Title      string
	Texts      map[string]string
	Links      []string
}

// Text returns the extracted text for selector.
func (p RenderedPage) Text(selector string) (string, error) {
	text, ok := p.Texts[selector]
	if !ok {
		return "", ErrSelectorNotFound
	}
	return text, nil
}

// Renderer is one browser (or HTTP) session shared by every fetch of a run.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderedPage, error)
	Close(ctx context.Context) error
}

// RendererFactory opens a fresh Renderer for a domain run.
type RendererFactory func(ctx context.Context) (Renderer, error)

// HostLimiter spaces requests to the same host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ResultSink hands finished runs to an external destination.
type ResultSink interface {
	Deliver(ctx context.Context, target string, domain string, records []PageRecord) error
	DeliverError(ctx context.Context, target string, envelope ErrorEnvelope) error
}

// RunStore persists run metadata and retained records.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	SaveRecords(ctx context.Context, runID string, records []PageRecord) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRecords(ctx context.Context, runID string) ([]PageRecord, error)
}

// Queue provides enqueue/dequeue semantics for runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Observer receives crawl lifecycle signals, typically for metrics.
type Observer interface {
	PageDispatched(domain string)
	PageOutcome(domain string, kind OutcomeKind)
	LinkRejected(domain string, reason Admission)
	RunFinished(domain string, stop StopReason, records int)
}

// SystemClock reads UTC wall time.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

type nopObserver struct{}

func (nopObserver) PageDispatched(string) {}
func (nopObserver) PageOutcome(string, OutcomeKind) {}
func (nopObserver) LinkRejected(string, Admission) {}
func (nopObserver) RunFinished(string, StopReason, int) {}
