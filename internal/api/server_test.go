package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/delivery"
	"github.com/JakeFAU/campus-crawler/internal/dispatcher"
	publisherMemory "github.com/JakeFAU/campus-crawler/internal/publisher/memory"
	queueMemory "github.com/JakeFAU/campus-crawler/internal/queue/memory"
	storeMemory "github.com/JakeFAU/campus-crawler/internal/storage/memory"
)

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "run-generated", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

type testServer struct {
	server *Server
	runs   *storeMemory.RunStore
	queue  *queueMemory.Queue
}

func newTestEngine(t *testing.T) *crawler.Engine {
	t.Helper()
	factory := func(context.Context) (crawler.Renderer, error) {
		return nil, crawler.ErrRendererUnavailable
	}
	engine, err := crawler.NewEngine(crawler.DefaultSettings(), factory)
	require.NoError(t, err)
	return engine
}

func newTestServer(t *testing.T, cfg config.Config, ids ...string) testServer {
	t.Helper()
	clock := fakeClock{now: time.Unix(100, 0).UTC()}
	runs := storeMemory.NewRunStore(clock)
	q := queueMemory.NewQueue(4)
	router := delivery.NewRouter(zap.NewNop())
	router.Register(publisherMemory.New(), "memory")
	router.Register(delivery.NewWebhook(nil, delivery.WebhookConfig{}, zap.NewNop()), "http", "https")
	srv := NewServer(runs, dispatcher.New(q, nil), newTestEngine(t), router, &fakeIDGen{ids: ids}, clock, cfg, zap.NewNop())
	return testServer{server: srv, runs: runs, queue: q}
}

func postScrape(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/scrape", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitScrape_Accepted(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{}, "run-1")
	rec := postScrape(t, ts.server, `{
		"domain": "www.example.edu",
		"seedUrls": ["https://www.example.edu/admissions"],
		"workerWebhookUrl": "https://hooks.example.com/results"
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp scrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, acceptedMessage, resp.Message)
	require.Equal(t, "www.example.edu", resp.Domain)
	require.Equal(t, "run-1", resp.RunID)

	item, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", item.RunID)
	require.Equal(t, "https://hooks.example.com/results", item.Request.ResultSink)
	require.Equal(t, int64(100), item.Submitted)

	run, err := ts.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusQueued, run.Status)
}

func TestServer_SubmitScrape_ResultSinkWins(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{}, "run-2")
	rec := postScrape(t, ts.server, `{
		"domain": "www.example.edu",
		"seedUrls": ["https://www.example.edu/"],
		"workerWebhookUrl": "https://hooks.example.com/results",
		"resultSink": "memory://capture"
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	item, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "memory://capture", item.Request.ResultSink)
}

func TestServer_SubmitScrape_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{name: "invalid json", body: "{invalid", status: http.StatusBadRequest, reason: "invalid JSON"},
		{name: "missing domain", body: `{"seedUrls":["https://a.edu/"]}`, status: http.StatusBadRequest, reason: "domain is required"},
		{name: "missing seeds", body: `{"domain":"a.edu","seedUrls":[]}`, status: http.StatusBadRequest, reason: "seedUrls"},
		{name: "off-domain seed", body: `{"domain":"a.edu","seedUrls":["https://b.edu/"]}`, status: http.StatusBadRequest, reason: "not on a.edu"},
		{name: "unknown sink", body: `{"domain":"a.edu","seedUrls":["https://a.edu/"],"resultSink":"ftp://x/y"}`, status: http.StatusBadRequest, reason: "invalid result sink"},
		{name: "blocked domain", body: `{"domain":"www.nyu.edu","seedUrls":["https://www.nyu.edu/"]}`, status: http.StatusForbidden, reason: "domain blocked"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, config.Config{})
			rec := postScrape(t, ts.server, tc.body)
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), tc.reason)
			require.Equal(t, 0, ts.queue.Len())
		})
	}
}

func TestServer_SubmitScrape_QueueClosed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{}, "run-closed")
	ts.queue.Close()

	rec := postScrape(t, ts.server, `{"domain":"a.edu","seedUrls":["https://a.edu/"]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	run, err := ts.runs.GetRun(context.Background(), "run-closed")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
}

func TestServer_SubmitScrape_IDFailure(t *testing.T) {
	t.Parallel()

	clock := fakeClock{now: time.Unix(1, 0)}
	runs := storeMemory.NewRunStore(clock)
	q := queueMemory.NewQueue(1)
	srv := NewServer(runs, dispatcher.New(q, nil), newTestEngine(t), nil,
		&fakeIDGen{err: errors.New("entropy")}, clock, config.Config{}, zap.NewNop())

	rec := postScrape(t, srv, `{"domain":"a.edu","seedUrls":["https://a.edu/"]}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "entropy")
}

func TestServer_GetRunAndResult(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, ts.runs.CreateRun(ctx, crawler.Run{
		ID:      "run-9",
		Status:  crawler.RunStatusSucceeded,
		Request: crawler.CrawlRequest{Domain: "a.edu"},
	}))
	require.NoError(t, ts.runs.SaveRecords(ctx, "run-9", []crawler.PageRecord{
		{Domain: "a.edu", URL: "https://a.edu/admissions", Title: "Admissions"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-9", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"succeeded"`)

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/run-9/result", nil)
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var result crawler.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "run-9", result.Run.ID)
	require.Len(t, result.Records, 1)
	require.Equal(t, "Admissions", result.Records[0].Title)
}

func TestServer_GetRunNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	for _, path := range []string{"/v1/runs/missing", "/v1/runs/missing/result"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestServer_BannerAndProbes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	h := ts.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, Banner, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ts.server.SetReady(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	ts := newTestServer(t, cfg, "run-a", "run-b")
	body := `{"domain":"a.edu","seedUrls":["https://a.edu/"]}`

	rec := postScrape(t, ts.server, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/scrape", bytes.NewBufferString(body))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/scrape?api_key=secret", bytes.NewBufferString(body))
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareKeepsCallerID(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "request timed out")
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	flushed  bool
	hijacked bool
}

func (h *hijackRecorder) Flush() { h.flushed = true }

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriterPassThrough(t *testing.T) {
	t.Parallel()

	base := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw := &responseWriter{ResponseWriter: base, status: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	_, err := rw.Write([]byte("x"))
	require.NoError(t, err)
	rw.Flush()
	_, _, err = rw.Hijack()
	require.NoError(t, err)

	require.Equal(t, http.StatusTeapot, rw.status)
	require.True(t, base.flushed)
	require.True(t, base.hijacked)

	plain := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err = plain.Hijack()
	require.Error(t, err)
}
