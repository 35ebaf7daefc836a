package crawler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// pageFetcher is the slice of PageFetcher the coordinator depends on.
type pageFetcher interface {
	Fetch(ctx context.Context, task FetchTask) Outcome
}

type attemptKey struct {
	url   string
	depth int
}

// DomainRun is the state of one domain crawl: frontier, attempt counters,
// collector and counters. Run drives it from a single coordinator goroutine,
// so none of these fields are guarded.
type DomainRun struct {
	domain    string
	settings  Settings
	frontier  *Frontier
	scorer    *Scorer
	fetcher   pageFetcher
	retry     RetryPolicy
	collector *Collector
	attempts  map[attemptKey]int
	counters  RunCounters
	observer  Observer
	clock     Clock
	logger    *zap.Logger

	dispatched int
	inFlight   int
	retrying   int
	stopping   bool
	stop       StopReason
	timers     []*time.Timer
}

// NewDomainRun prepares a run. Seeds are offered by the caller via Seed.
func NewDomainRun(
	domain string,
	settings Settings,
	frontier *Frontier,
	scorer *Scorer,
	fetcher pageFetcher,
	retry RetryPolicy,
	observer Observer,
	clock Clock,
	logger *zap.Logger,
) *DomainRun {
	if observer == nil {
		observer = nopObserver{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DomainRun{
		domain:    domain,
		settings:  settings,
		frontier:  frontier,
		scorer:    scorer,
		fetcher:   fetcher,
		retry:     retry,
		collector: NewCollector(),
		attempts:  make(map[attemptKey]int),
		observer:  observer,
		clock:     clock,
		logger:    logger.With(zap.String("domain", domain)),
	}
}

// Seed offers the seed URLs and returns how many were admitted.
func (r *DomainRun) Seed(seeds []string) int {
	admitted := 0
	for _, seed := range seeds {
		if _, verdict := r.frontier.OfferSeed(seed); verdict != AdmitOK {
			r.logger.Warn("seed rejected", zap.String("url", seed), zap.Stringer("reason", verdict))
			r.observer.LinkRejected(r.domain, verdict)
			continue
		}
		admitted++
	}
	return admitted
}

// Run crawls until the frontier is exhausted, the page budget is spent or ctx
// is canceled. In-flight fetches are always drained before it returns.
func (r *DomainRun) Run(ctx context.Context) RunReport {
	started := r.clock.Now()
	results := make(chan Outcome, r.settings.ConcurrentPages)
	retries := make(chan FrontierItem)
	done := make(chan struct{})
	defer func() {
		close(done)
		for _, t := range r.timers {
			t.Stop()
		}
	}()

	cancelled := ctx.Done()
	for {
		if ctx.Err() != nil {
			r.halt(StopCanceled)
		}
		r.fill(ctx, results)
		if r.finished() {
			break
		}
		select {
		case out := <-results:
			r.inFlight--
			r.handle(out, retries, done)
		case item := <-retries:
			r.retrying--
			if !r.stopping {
				r.frontier.Requeue(item)
			}
		case <-cancelled:
			cancelled = nil
			r.halt(StopCanceled)
		}
	}

	if r.stop == "" {
		r.stop = StopFrontierExhausted
	}
	r.counters.Records = r.collector.Len()
	report := RunReport{
		Domain:   r.domain,
		Records:  r.collector.Records(),
		Counters: r.counters,
		Stop:     r.stop,
		Duration: r.clock.Now().Sub(started),
	}
	r.observer.RunFinished(r.domain, report.Stop, len(report.Records))
	r.logger.Info("domain run finished",
		zap.String("stop_reason", string(report.Stop)),
		zap.Int("records", len(report.Records)),
		zap.Int("pages_dispatched", report.Counters.PagesDispatched),
		zap.Int("visited", r.frontier.VisitedCount()),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// fill dispatches while there is capacity, work and budget.
func (r *DomainRun) fill(ctx context.Context, results chan<- Outcome) {
	for !r.stopping && r.inFlight < r.settings.ConcurrentPages {
		item, ok := r.frontier.Pop()
		if !ok {
			return
		}
		r.dispatch(ctx, item, results)
		if r.dispatched >= r.settings.MaxPagesPerDomain {
			r.logger.Info("page budget reached", zap.Int("max_pages", r.settings.MaxPagesPerDomain))
			r.halt(StopPageBudget)
		}
	}
}

func (r *DomainRun) dispatch(ctx context.Context, item FrontierItem, results chan<- Outcome) {
	key := attemptKey{url: item.URL, depth: item.Depth}
	r.attempts[key]++
	attempt := r.attempts[key]
	if attempt == 1 {
		r.dispatched++
		r.counters.PagesDispatched++
	}
	r.inFlight++
	r.observer.PageDispatched(r.domain)

	task := FetchTask{Item: item, Attempt: attempt}
	go func() {
		results <- r.fetcher.Fetch(ctx, task)
	}()
}

func (r *DomainRun) finished() bool {
	if r.inFlight > 0 {
		return false
	}
	if r.stopping {
		return true
	}
	return r.frontier.Len() == 0 && r.retrying == 0
}

func (r *DomainRun) halt(reason StopReason) {
	if r.stopping {
		return
	}
	r.stopping = true
	r.stop = reason
	for _, t := range r.timers {
		if t.Stop() {
			r.retrying--
		}
	}
	r.timers = nil
}

func (r *DomainRun) handle(out Outcome, retries chan<- FrontierItem, done <-chan struct{}) {
	r.observer.PageOutcome(r.domain, out.Kind)
	logger := r.logger.With(zap.String("url", out.Item.URL), zap.Int("depth", out.Item.Depth), zap.Int("attempt", out.Attempt))

	switch out.Kind {
	case OutcomeAccepted:
		r.counters.PagesAccepted++
		if out.Record != nil {
			r.collector.Add(*out.Record)
			logger.Info("page collected", zap.Int("relevance_score", out.Record.RelevanceScore))
		}
		r.offerLinks(out.Links, out.Item.Depth+1)
	case OutcomeRedirected:
		r.counters.Redirects++
		if r.stopping {
			return
		}
		if _, verdict := r.frontier.Offer(out.RedirectURL, out.Item.Depth); verdict != AdmitOK {
			logger.Debug("redirect target rejected", zap.String("target", out.RedirectURL), zap.Stringer("reason", verdict))
			r.observer.LinkRejected(r.domain, verdict)
		}
	case OutcomeExcluded:
		r.counters.PagesExcluded++
		logger.Debug("page excluded", zap.Error(out.Err))
		r.offerLinks(out.Links, out.Item.Depth+1)
	case OutcomeFailedRetryable:
		if !r.stopping && r.retry.ShouldRetry(out.Err, r.attempts[attemptKey{url: out.Item.URL, depth: out.Item.Depth}]) {
			r.scheduleRetry(out, retries, done)
			logger.Warn("page failed, retry scheduled", zap.Error(out.Err))
			return
		}
		r.counters.Failures++
		if !r.stopping {
			logger.Warn("page abandoned", zap.Error(ErrRetryBudgetExhausted), zap.NamedError("last_error", out.Err))
		}
	case OutcomeFailedTerminal:
		r.counters.Failures++
		logger.Warn("page failed", zap.Error(out.Err))
	}
}

func (r *DomainRun) scheduleRetry(out Outcome, retries chan<- FrontierItem, done <-chan struct{}) {
	r.counters.Retries++
	r.retrying++
	item := out.Item
	delay := r.retry.Backoff(out.Attempt)
	t := time.AfterFunc(delay, func() {
		select {
		case retries <- item:
		case <-done:
		}
	})
	r.timers = append(r.timers, t)
}

// offerLinks admits discovered links, keeping only the best MaxLinksPerPage
// when that cap is set.
func (r *DomainRun) offerLinks(links []string, depth int) {
	if r.stopping || len(links) == 0 {
		return
	}
	if limit := r.settings.MaxLinksPerPage; limit > 0 && len(links) > limit {
		ranked := make([]string, len(links))
		copy(ranked, links)
		scores := make(map[string]float64, len(ranked))
		for _, link := range ranked {
			scores[link] = r.scorer.PriorityScore(link, depth)
		}
		sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i]] > scores[ranked[j]] })
		links = ranked[:limit]
	}
	for _, link := range links {
		if _, verdict := r.frontier.Offer(link, depth); verdict != AdmitOK {
			r.observer.LinkRejected(r.domain, verdict)
		}
	}
}
