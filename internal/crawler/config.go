package crawler

import (
	"fmt"
	"time"
)

// DefaultUserAgent is sent by both render backends unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Settings captures every knob that influences a domain run.
type Settings struct {
	MaxDepth          int
	MaxPagesPerDomain int
	ConcurrentPages   int
	RequestTimeout    time.Duration
	MaxRetryTimeout   time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	RequestDelay      time.Duration
	MinScoreToEnqueue float64
	SeedScore         float64
	MinContentChars   int
	MaxContentChars   int
	MaxLinksPerPage   int
	UserAgent         string
	BlockedDomains    []string
	ExtractionTiers   [][]string
	BlockedResources  []string
	Keywords          Keywords
	Exclusion         ExclusionConfig
}

// DefaultExtractionTiers returns the selector tiers tried in order.
func DefaultExtractionTiers() [][]string {
	return [][]string{
		{"main", "article", ".main-content", "#content", "div.content"},
		{".container", "div.page-content", "#main-container"},
		{"body"},
	}
}

// DefaultBlockedResources lists sub-resource types the headless renderer aborts.
func DefaultBlockedResources() []string {
	return []string{"image", "stylesheet", "font", "media"}
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxDepth:          4,
		MaxPagesPerDomain: 300,
		ConcurrentPages:   3,
		RequestTimeout:    45 * time.Second,
		MaxRetryTimeout:   60 * time.Second,
		RetryAttempts:     5,
		RetryDelay:        3 * time.Second,
		MaxRetryDelay:     30 * time.Second,
		RequestDelay:      time.Second,
		MinScoreToEnqueue: 1,
		SeedScore:         1000,
		MinContentChars:   250,
		MaxContentChars:   2000,
		UserAgent:         DefaultUserAgent,
		BlockedDomains:    []string{"www.nyu.edu"},
		ExtractionTiers:   DefaultExtractionTiers(),
		BlockedResources:  DefaultBlockedResources(),
		Keywords:          DefaultKeywords(),
		Exclusion:         DefaultExclusionConfig(),
	}
}

// Validate checks for obviously bad configuration combinations.
func (s Settings) Validate() error {
	if s.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if s.MaxPagesPerDomain <= 0 {
		return fmt.Errorf("crawler.max_pages_per_domain must be > 0")
	}
	if s.ConcurrentPages <= 0 {
		return fmt.Errorf("crawler.concurrent_pages must be > 0")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if s.MaxRetryTimeout < s.RequestTimeout {
		return fmt.Errorf("crawler.max_retry_timeout must be >= crawler.request_timeout")
	}
	if s.RetryAttempts <= 0 {
		return fmt.Errorf("crawler.retry_attempts must be > 0")
	}
	if s.RetryDelay < 0 || s.MaxRetryDelay < 0 {
		return fmt.Errorf("crawler.retry_delay and crawler.max_retry_delay must be >= 0")
	}
	if s.RequestDelay < 0 {
		return fmt.Errorf("crawler.request_delay must be >= 0")
	}
	if s.MinContentChars < 0 {
		return fmt.Errorf("crawler.min_content_chars must be >= 0")
	}
	if s.MaxContentChars <= 0 {
		return fmt.Errorf("crawler.max_content_chars must be > 0")
	}
	if s.MaxLinksPerPage < 0 {
		return fmt.Errorf("crawler.max_links_per_page must be >= 0")
	}
	if len(s.ExtractionTiers) == 0 {
		return fmt.Errorf("crawler.extraction_tiers must include at least one tier")
	}
	for i, tier := range s.ExtractionTiers {
		if len(tier) == 0 {
			return fmt.Errorf("crawler.extraction_tiers[%d] must not be empty", i)
		}
	}
	if len(s.Keywords.Relevant) == 0 {
		return fmt.Errorf("keywords.relevant must not be empty")
	}
	return nil
}

// attemptTimeout grows linearly from RequestTimeout on the first attempt to
// MaxRetryTimeout on the last one.
func (s Settings) attemptTimeout(attempt int) time.Duration {
	if attempt <= 1 || s.RetryAttempts <= 1 || s.MaxRetryTimeout <= s.RequestTimeout {
		return s.RequestTimeout
	}
	if attempt > s.RetryAttempts {
		attempt = s.RetryAttempts
	}
	span := s.MaxRetryTimeout - s.RequestTimeout
	step := span * time.Duration(attempt-1) / time.Duration(s.RetryAttempts-1)
	return s.RequestTimeout + step
}

// selectors flattens the extraction tiers without duplicates, preserving order.
func (s Settings) selectors() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tier := range s.ExtractionTiers {
		for _, sel := range tier {
			if _, ok := seen[sel]; ok {
				continue
			}
			seen[sel] = struct{}{}
			out = append(out, sel)
		}
	}
	return out
}
