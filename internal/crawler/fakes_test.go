package crawler

import (
	"context"
	"strings"
	"sync"
	"time"
)

const testDomain = "example.edu"

var relevantText = strings.Repeat("Undergraduate admissions and degree programs. ", 8)

// fakeRenderer serves canned pages keyed by URL and records every call.
type fakeRenderer struct {
	mu          sync.Mutex
	pages       map[string]RenderedPage
	errs        map[string][]error
	calls       map[string]int
	order       []string
	delay       time.Duration
	block       bool
	inFlight    int
	maxInFlight int
	closed      bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		pages: make(map[string]RenderedPage),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *fakeRenderer) page(url string, page RenderedPage) *fakeRenderer {
	f.pages[url] = page
	return f
}

func (f *fakeRenderer) fail(url string, errs ...error) *fakeRenderer {
	f.errs[url] = append(f.errs[url], errs...)
	return f
}

func (f *fakeRenderer) Render(ctx context.Context, req RenderRequest) (RenderedPage, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	f.order = append(f.order, req.URL)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	var err error
	if queued := f.errs[req.URL]; len(queued) > 0 {
		err = queued[0]
		f.errs[req.URL] = queued[1:]
	}
	page, ok := f.pages[req.URL]
	delay, block := f.delay, f.block
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return RenderedPage{}, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return RenderedPage{}, ctx.Err()
		}
	}
	if err != nil {
		return RenderedPage{}, err
	}
	if !ok {
		return RenderedPage{FinalURL: req.URL, StatusCode: 404}, nil
	}
	if page.FinalURL == "" {
		page.FinalURL = req.URL
	}
	return page, nil
}

func (f *fakeRenderer) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRenderer) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeRenderer) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func (f *fakeRenderer) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeRenderer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func htmlPage(title, text string, links ...string) RenderedPage {
	return RenderedPage{
		StatusCode: 200,
		Title:      title,
		Texts:      map[string]string{"main": text},
		Links:      links,
	}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.RequestDelay = 0
	s.RequestTimeout = time.Second
	s.MaxRetryTimeout = 2 * time.Second
	s.RetryDelay = time.Millisecond
	s.MaxRetryDelay = 5 * time.Millisecond
	s.BlockedDomains = []string{"www.nyu.edu"}
	return s
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, rawURL)
	return l.err
}
