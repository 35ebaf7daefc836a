package crawler

import (
	"time"
)

// FrontierItem is a URL waiting in (or dispatched from) the frontier.
type FrontierItem struct {
	URL   string  `json:"url"`
	Depth int     `json:"depth"`
	Score float64 `json:"score"`
}

// PageRecord is emitted for every fetched page that passes the relevance gate.
// Field names match the payload consumed by the existing result webhooks.
type PageRecord struct {
	Domain           string    `json:"domain"`
	URL              string    `json:"url"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	RelevanceScore   int       `json:"relevanceScore"`
	Depth            int       `json:"depth"`
	ExtractionMethod string    `json:"extractionMethod"`
}

// CrawlRequest describes one domain run as submitted by a caller.
type CrawlRequest struct {
	Domain     string   `json:"domain"`
	SeedURLs   []string `json:"seedUrls"`
	ResultSink string   `json:"resultSink,omitempty"`
}

// ErrorEnvelope is delivered instead of records when a run fails outright.
type ErrorEnvelope struct {
	Error   bool   `json:"error"`
	Domain  string `json:"domain"`
	Message string `json:"message"`
}

// StopReason explains why a domain run ended.
type StopReason string

// Stop reasons reported on a RunReport.
const (
	StopFrontierExhausted StopReason = "frontier_exhausted"
	StopPageBudget        StopReason = "page_budget"
	StopCanceled          StopReason = "canceled"
)

// RunCounters tracks what happened during one domain run.
type RunCounters struct {
	PagesDispatched int `json:"pages_dispatched"`
	PagesAccepted   int `json:"pages_accepted"`
	PagesExcluded   int `json:"pages_excluded"`
	Redirects       int `json:"redirects"`
	Retries         int `json:"retries"`
	Failures        int `json:"failures"`
	Records         int `json:"records"`
}

// RunReport is returned by the engine once a domain run has finished.
type RunReport struct {
	Domain   string        `json:"domain"`
	Records  []PageRecord  `json:"records"`
	Counters RunCounters   `json:"counters"`
	Stop     StopReason    `json:"stop_reason"`
	Duration time.Duration `json:"duration"`
}

// RunStatus represents the lifecycle state of a service-level run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Run is the service-level view of a submitted crawl request.
type Run struct {
	ID        string       `json:"id"`
	Status    RunStatus    `json:"status"`
	Request   CrawlRequest `json:"request"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	Counters  RunCounters  `json:"counters"`
	Stop      StopReason   `json:"stop_reason,omitempty"`
	Delivered bool         `json:"delivered"`
}

// RunResult is returned by the API result endpoint.
type RunResult struct {
	Run     Run          `json:"run"`
	Records []PageRecord `json:"records"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Request   CrawlRequest
	Submitted int64
}
