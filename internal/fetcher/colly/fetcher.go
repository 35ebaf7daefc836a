// Package collyfetcher implements crawler.Renderer over plain HTTP using
// gocolly for transport and goquery for extraction. It does not run
// JavaScript.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single HTTP exchange; the per-attempt deadline arrives
	// through the Render context.
	Timeout time.Duration
}

// Renderer implements crawler.Renderer using the Colly collector.
type Renderer struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Renderer. Redirects are not followed so the caller sees the
// 3xx status and Location header.
func New(cfg Config) *Renderer {
	if cfg.UserAgent == "" {
		cfg.UserAgent = crawler.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := newHTTPTransport()

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Renderer{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// NewFactory returns a crawler.RendererFactory that opens a fresh Renderer
// for every domain run.
func NewFactory(cfg Config) crawler.RendererFactory {
	return func(context.Context) (crawler.Renderer, error) {
		return New(cfg), nil
	}
}

// Render fetches req.URL and extracts the title, selector texts and links.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	var (
		page     crawler.RenderedPage
		fetchErr error
	)
	collector := r.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, req.Selectors, &page, &fetchErr)

	if err := runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return crawler.RenderedPage{}, err
	}
	if page.FinalURL == "" {
		page.FinalURL = req.URL
	}
	return page, nil
}

// Close drops idle connections held by the session transport.
func (r *Renderer) Close(context.Context) error {
	r.transport.CloseIdleConnections()
	return nil
}

func configureCollectorHooks(
	hooks collectorHooks,
	selectors []string,
	page *crawler.RenderedPage,
	fetchErr *error,
) {
	hooks.OnResponse(func(resp *colly.Response) {
		*page = crawler.RenderedPage{
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
		}
		if resp.Headers != nil {
			page.Location = resp.Headers.Get("Location")
		}
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			*fetchErr = fmt.Errorf("parse html: %w", err)
			return
		}
		extractDocument(doc, selectors, resp.Request.AbsoluteURL, page)
	})

	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode > 0 {
			// HTTP error statuses are parsed by OnResponse.
			return
		}
		*fetchErr = err
	})
}

// extractDocument mirrors what the headless backend evaluates in the page:
// title, innerText-like text per selector and absolute anchor targets.
func extractDocument(doc *goquery.Document, selectors []string, absolute func(string) string, page *crawler.RenderedPage) {
	doc.Find("script, style, noscript, template").Remove()

	page.Title = collapseSpace(doc.Find("title").First().Text())
	page.Texts = make(map[string]string, len(selectors))
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		page.Texts[sel] = collapseSpace(node.Text())
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		if abs := absolute(strings.TrimSpace(href)); abs != "" {
			page.Links = append(page.Links, abs)
		}
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
