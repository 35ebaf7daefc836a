package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Engine runs single-domain crawls. One Engine may serve many runs
// concurrently; each run gets its own frontier and renderer session.
type Engine struct {
	settings  Settings
	factory   RendererFactory
	limiter   HostLimiter
	scorer    *Scorer
	filter    *ExclusionFilter
	blocklist *DomainBlocklist
	observer  Observer
	clock     Clock
	logger    *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithHostLimiter installs the per-host politeness limiter.
func WithHostLimiter(l HostLimiter) EngineOption {
	return func(e *Engine) { e.limiter = l }
}

// WithObserver installs a lifecycle observer, usually the metrics recorder.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine validates settings and builds an Engine.
func NewEngine(settings Settings, factory RendererFactory, opts ...EngineOption) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler settings: %w", err)
	}
	if factory == nil {
		return nil, errors.New("renderer factory is required")
	}
	filter, err := NewExclusionFilter(settings.Exclusion)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		settings:  settings,
		factory:   factory,
		scorer:    NewScorer(settings.Keywords, settings.MaxDepth),
		filter:    filter,
		blocklist: NewDomainBlocklist(settings.BlockedDomains),
		observer:  nopObserver{},
		clock:     SystemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Settings returns the engine configuration.
func (e *Engine) Settings() Settings { return e.settings }

// Validate checks a request without crawling. Errors wrap ErrInvalidRequest
// or ErrDomainBlocked.
func (e *Engine) Validate(req CrawlRequest) error {
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidRequest)
	}
	if strings.ContainsAny(domain, "/:?#") {
		return fmt.Errorf("%w: domain must be a bare host name", ErrInvalidRequest)
	}
	if len(req.SeedURLs) == 0 {
		return fmt.Errorf("%w: seedUrls must contain at least one url", ErrInvalidRequest)
	}
	for _, seed := range req.SeedURLs {
		u, err := parseAbsolute(strings.TrimSpace(seed))
		if err != nil {
			return fmt.Errorf("%w: seed %q: %v", ErrInvalidRequest, seed, err)
		}
		if !sameHost(u, domain) {
			return fmt.Errorf("%w: seed %q is not on %s", ErrInvalidRequest, seed, domain)
		}
	}
	if e.blocklist.IsBlocked(domain) {
		return fmt.Errorf("%w: %s", ErrDomainBlocked, domain)
	}
	return nil
}

// Crawl runs one domain to completion. Page-level failures never surface
// here; only request validation and renderer start-up errors do. A canceled
// ctx still returns the records collected so far.
func (e *Engine) Crawl(ctx context.Context, req CrawlRequest) (RunReport, error) {
	if err := e.Validate(req); err != nil {
		return RunReport{}, err
	}
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	logger := e.logger.With(zap.String("domain", domain))

	renderer, err := e.factory(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
	}
	defer func() {
		if cerr := renderer.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("renderer close failed", zap.Error(cerr))
		}
	}()

	frontier := NewFrontier(FrontierPolicy{
		Domain:            domain,
		MaxDepth:          e.settings.MaxDepth,
		MinScoreToEnqueue: e.settings.MinScoreToEnqueue,
		SeedScore:         e.settings.SeedScore,
	}, e.scorer, e.filter)
	fetcher := NewPageFetcher(domain, renderer, e.limiter, e.scorer, e.settings, e.clock, logger)
	retry := NewProgressiveRetryPolicy(e.settings.RetryAttempts, e.settings.RetryDelay, e.settings.MaxRetryDelay)

	run := NewDomainRun(domain, e.settings, frontier, e.scorer, fetcher, retry, e.observer, e.clock, e.logger)
	admitted := run.Seed(req.SeedURLs)
	logger.Info("domain run started", zap.Int("seeds", len(req.SeedURLs)), zap.Int("admitted", admitted))

	return run.Run(ctx), nil
}
