package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// OutcomeKind is the terminal state of one fetch attempt.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota + 1
	OutcomeRedirected
	OutcomeExcluded
	OutcomeFailedRetryable
	OutcomeFailedTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRedirected:
		return "redirected"
	case OutcomeExcluded:
		return "excluded"
	case OutcomeFailedRetryable:
		return "failed_retryable"
	case OutcomeFailedTerminal:
		return "failed_terminal"
	default:
		return "pending"
	}
}

// Outcome is what a fetch attempt reports back to the coordinator.
// Links are set for Accepted and Excluded, RedirectURL for Redirected,
// Record only for an accepted page that passed the relevance gate, and
// Err for Excluded and both failure kinds.
type Outcome struct {
	Kind        OutcomeKind
	Item        FrontierItem
	Attempt     int
	Links       []string
	RedirectURL string
	Record      *PageRecord
	Err         error
}

// FetchTask is a frontier item handed to a fetch goroutine.
type FetchTask struct {
	Item    FrontierItem
	Attempt int
}

// PageFetcher turns one FetchTask into an Outcome using a shared Renderer.
// It is safe for concurrent use as long as the Renderer is.
type PageFetcher struct {
	domain   string
	renderer Renderer
	limiter  HostLimiter
	scorer   *Scorer
	settings Settings
	clock    Clock
	logger   *zap.Logger
}

// NewPageFetcher wires a fetcher for one domain run. limiter may be nil.
func NewPageFetcher(
	domain string,
	renderer Renderer,
	limiter HostLimiter,
	scorer *Scorer,
	settings Settings,
	clock Clock,
	logger *zap.Logger,
) *PageFetcher {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{
		domain:   domain,
		renderer: renderer,
		limiter:  limiter,
		scorer:   scorer,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

// Fetch performs one attempt. It never panics and never returns a zero Outcome.
func (f *PageFetcher) Fetch(ctx context.Context, task FetchTask) Outcome {
	item := task.Item
	logger := f.logger.With(
		zap.String("url", item.URL),
		zap.Int("depth", item.Depth),
		zap.Float64("score", item.Score),
		zap.Int("attempt", task.Attempt),
	)

	if task.Attempt > f.settings.RetryAttempts {
		return f.fail(task, OutcomeFailedTerminal, ErrRetryBudgetExhausted)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, item.URL); err != nil {
			return f.failure(task, fmt.Errorf("politeness wait: %w", err))
		}
	}

	logger.Info("fetching page")
	page, err := f.render(ctx, item.URL, f.settings.attemptTimeout(task.Attempt))
	if err != nil {
		logger.Warn("render failed", zap.Error(err))
		return f.failure(task, err)
	}

	status := page.StatusCode
	if isRedirectStatus(status) && page.Location != "" {
		target, rerr := ResolveURL(firstNonEmpty(page.FinalURL, item.URL), page.Location)
		if rerr != nil {
			return f.fail(task, OutcomeFailedTerminal, fmt.Errorf("redirect location: %w", rerr))
		}
		logger.Info("redirect detected", zap.Int("status", status), zap.String("location", target))
		return Outcome{Kind: OutcomeRedirected, Item: item, Attempt: task.Attempt, RedirectURL: target}
	}
	if status != 0 && !isSuccessStatus(status) {
		return f.fail(task, OutcomeFailedRetryable, &StatusError{Code: status})
	}

	base := firstNonEmpty(page.FinalURL, item.URL)
	links := f.harvestLinks(base, page.Links)

	selector, text, ok := f.extract(page)
	if !ok {
		logger.Debug("no usable content", zap.Int("links", len(links)))
		return Outcome{Kind: OutcomeExcluded, Item: item, Attempt: task.Attempt, Links: links, Err: ErrNoUsableContent}
	}

	out := Outcome{Kind: OutcomeAccepted, Item: item, Attempt: task.Attempt, Links: links}
	path := pathOf(base)
	if f.scorer.IsRelevant(page.Title, path, text) {
		out.Record = &PageRecord{
			Domain:           f.domain,
			URL:              NormalizeURL(base),
			Title:            page.Title,
			Content:          truncateRunes(text, f.settings.MaxContentChars),
			Timestamp:        f.clock.Now(),
			RelevanceScore:   f.scorer.ContentScore(page.Title, path, text),
			Depth:            item.Depth,
			ExtractionMethod: "selector:" + selector,
		}
	}
	return out
}

// render runs the renderer under the attempt timeout. A render that outlives
// the timeout is abandoned; its goroutine finishes on its own.
func (f *PageFetcher) render(ctx context.Context, rawURL string, timeout time.Duration) (page RenderedPage, err error) {
	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		page RenderedPage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("renderer panic: %v", r)}
			}
		}()
		p, rerr := f.renderer.Render(renderCtx, RenderRequest{
			URL:                  rawURL,
			Timeout:              timeout,
			Selectors:            f.settings.selectors(),
			BlockedResourceTypes: f.settings.BlockedResources,
		})
		done <- result{page: p, err: rerr}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return RenderedPage{}, fmt.Errorf("%w after %s: %v", ErrNavigationTimeout, timeout, res.err)
		}
		return res.page, res.err
	case <-renderCtx.Done():
		if ctx.Err() != nil {
			return RenderedPage{}, fmt.Errorf("render aborted: %w", ctx.Err())
		}
		return RenderedPage{}, fmt.Errorf("%w after %s", ErrNavigationTimeout, timeout)
	}
}

// extract walks the tiers and returns the first selector whose trimmed text
// is longer than MinContentChars.
func (f *PageFetcher) extract(page RenderedPage) (string, string, bool) {
	for _, tier := range f.settings.ExtractionTiers {
		for _, sel := range tier {
			text, err := page.Text(sel)
			if err != nil {
				continue
			}
			text = strings.TrimSpace(text)
			if utf8.RuneCountInString(text) > f.settings.MinContentChars {
				return sel, text, true
			}
		}
	}
	return "", "", false
}

// harvestLinks resolves, normalizes and de-duplicates same-host links.
func (f *PageFetcher) harvestLinks(base string, raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	links := make([]string, 0, len(raw))
	for _, href := range raw {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		resolved, err := ResolveURL(base, href)
		if err != nil {
			continue
		}
		normalized := NormalizeURL(resolved)
		u, err := url.Parse(normalized)
		if err != nil || !sameHost(u, f.domain) {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	}
	return links
}

func (f *PageFetcher) failure(task FetchTask, err error) Outcome {
	if IsRetryable(err) {
		return f.fail(task, OutcomeFailedRetryable, err)
	}
	return f.fail(task, OutcomeFailedTerminal, err)
}

func (f *PageFetcher) fail(task FetchTask, kind OutcomeKind, err error) Outcome {
	return Outcome{Kind: kind, Item: task.Item, Attempt: task.Attempt, Err: err}
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
