// Package headless implements crawler.Renderer with headless Chrome driven by
// chromedp. One Renderer is one browser session; every Render opens its own
// tab and closes it on return.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Config controls the browser session.
type Config struct {
	UserAgent string
	// ExecPath points at a Chrome binary; empty uses chromedp's lookup.
	ExecPath string
	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool
	// NavigationTimeout applies when a RenderRequest carries no timeout.
	NavigationTimeout time.Duration
}

// Renderer renders pages in tabs of one shared browser.
type Renderer struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	closeOnce     sync.Once
}

// NewFactory returns a crawler.RendererFactory that launches one browser per
// domain run.
func NewFactory(cfg Config, logger *zap.Logger) crawler.RendererFactory {
	return func(ctx context.Context) (crawler.Renderer, error) {
		return New(ctx, cfg, logger)
	}
}

// New launches a browser and waits until it is ready. The browser outlives
// ctx; call Close to stop it.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = crawler.DefaultUserAgent
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	logger.Debug("browser session started")

	return &Renderer{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close tears down the browser and its allocator.
func (r *Renderer) Close(context.Context) error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.browserCancel()
		r.allocCancel()
		r.logger.Debug("browser session closed")
	})
	return nil
}

// Render navigates a fresh tab to req.URL. The tab is closed on every return
// path, including timeouts and cancellation.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.NavigationTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	blocked := resourceTypes(req.BlockedResourceTypes)
	chromedp.ListenTarget(taskCtx, func(ev any) {
		meta.captureEvent(ev)
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go r.settlePaused(taskCtx, paused, blocked)
		}
	})

	if err := chromedp.Run(taskCtx,
		r.setupAction(blocked),
		chromedp.Navigate(req.URL),
	); err != nil {
		return crawler.RenderedPage{}, r.wrapErr(ctx, taskCtx, err)
	}

	if status, location, ok := meta.redirect(); ok {
		return crawler.RenderedPage{FinalURL: req.URL, StatusCode: status, Location: location}, nil
	}

	var result evaluation
	if err := chromedp.Run(taskCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(extractionScript(req.Selectors), &result),
	); err != nil {
		return crawler.RenderedPage{}, r.wrapErr(ctx, taskCtx, err)
	}

	finalURL := result.URL
	if finalURL == "" {
		finalURL = req.URL
	}
	return crawler.RenderedPage{
		FinalURL:   finalURL,
		StatusCode: meta.status(),
		Title:      strings.TrimSpace(result.Title),
		Texts:      result.Texts,
		Links:      result.Links,
	}, nil
}

func (r *Renderer) setupAction(blocked map[network.ResourceType]struct{}) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(blocked) == 0 {
			return nil
		}
		patterns := make([]*fetch.RequestPattern, 0, len(blocked))
		for rt := range blocked {
			patterns = append(patterns, &fetch.RequestPattern{
				URLPattern:   "*",
				ResourceType: rt,
				RequestStage: fetch.RequestStageRequest,
			})
		}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable request interception: %w", err)
		}
		return nil
	})
}

// settlePaused aborts blocked sub-resources and lets anything else through.
// It runs outside the event loop because CDP calls block on their reply.
func (r *Renderer) settlePaused(ctx context.Context, ev *fetch.EventRequestPaused, blocked map[network.ResourceType]struct{}) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, c.Target)
	var err error
	if _, drop := blocked[ev.ResourceType]; drop {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	if err != nil && ctx.Err() == nil {
		r.logger.Debug("settle paused request", zap.String("url", ev.Request.URL), zap.Error(err))
	}
}

func (r *Renderer) wrapErr(parent, task context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("chromedp run: %w", parent.Err())
	}
	if errors.Is(task.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("chromedp run: %w: %v", crawler.ErrNavigationTimeout, err)
	}
	return fmt.Errorf("chromedp run: %w", err)
}

type evaluation struct {
	Title string            `json:"title"`
	URL   string            `json:"url"`
	Texts map[string]string `json:"texts"`
	Links []string          `json:"links"`
}

// extractionScript collects title, location, innerText per selector and
// every anchor href in a single round trip.
func extractionScript(selectors []string) string {
	encoded, err := json.Marshal(selectors)
	if err != nil || len(selectors) == 0 {
		encoded = []byte("[]")
	}
	return fmt.Sprintf(`(() => {
	const selectors = %s;
	const texts = {};
	for (const sel of selectors) {
		let el = null;
		try { el = document.querySelector(sel); } catch (e) { el = null; }
		if (el) { texts[sel] = el.innerText || ""; }
	}
	const links = Array.from(document.querySelectorAll("a[href]"), a => a.href);
	return { title: document.title || "", url: location.href, texts, links };
})()`, encoded)
}

var resourceTypeNames = map[string]network.ResourceType{
	"document":   network.ResourceTypeDocument,
	"stylesheet": network.ResourceTypeStylesheet,
	"image":      network.ResourceTypeImage,
	"media":      network.ResourceTypeMedia,
	"font":       network.ResourceTypeFont,
	"script":     network.ResourceTypeScript,
	"xhr":        network.ResourceTypeXHR,
	"fetch":      network.ResourceTypeFetch,
}

func resourceTypes(names []string) map[network.ResourceType]struct{} {
	out := make(map[network.ResourceType]struct{}, len(names))
	for _, name := range names {
		if rt, ok := resourceTypeNames[strings.ToLower(strings.TrimSpace(name))]; ok {
			out[rt] = struct{}{}
		}
	}
	return out
}

// responseMeta records the main document's status and its first redirect hop.
type responseMeta struct {
	mu             sync.RWMutex
	statusCode     int
	redirectStatus int
	location       string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		m.captureRedirect(e)
	case *network.EventResponseReceived:
		m.captureResponse(e)
	}
}

func (m *responseMeta) captureRedirect(e *network.EventRequestWillBeSent) {
	if e.RedirectResponse == nil || e.Type != network.ResourceTypeDocument {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redirectStatus != 0 || m.statusCode != 0 {
		return
	}
	m.redirectStatus = int(e.RedirectResponse.Status)
	m.location = headerValue(e.RedirectResponse.Headers, "Location")
	if m.location == "" && e.Request != nil {
		m.location = e.Request.URL
	}
}

func (m *responseMeta) captureResponse(e *network.EventResponseReceived) {
	if e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode == 0 {
		m.statusCode = int(e.Response.Status)
	}
}

func (m *responseMeta) redirect() (int, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.redirectStatus == 0 || m.location == "" {
		return 0, "", false
	}
	return m.redirectStatus, m.location, true
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}

func headerValue(headers network.Headers, name string) string {
	for key, value := range headers {
		if !strings.EqualFold(key, name) {
			continue
		}
		switch v := value.(type) {
		case string:
			return v
		case []string:
			if len(v) > 0 {
				return v[0]
			}
		case []any:
			if len(v) > 0 {
				return fmt.Sprint(v[0])
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
