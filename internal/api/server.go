package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/dispatcher"
	"github.com/JakeFAU/campus-crawler/internal/metrics"
)

// Banner is served on GET /.
const Banner = "Scraper API is running. Use POST /scrape to start a job."

const (
	acceptedMessage = "Scraping request accepted and is running in the background."
	enqueueTimeout  = 5 * time.Second
	storeTimeout    = 3 * time.Second
)

// RequestValidator checks a crawl request before it is queued.
type RequestValidator interface {
	Validate(req crawler.CrawlRequest) error
}

// SinkValidator checks that a result sink target can be delivered to.
type SinkValidator interface {
	Validate(target string) error
}

// IDGenerator creates run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the dispatcher and run store.
type Server struct {
	router     chi.Router
	runs       crawler.RunStore
	dispatcher *dispatcher.Dispatcher
	requests   RequestValidator
	sinks      SinkValidator
	idGen      IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	logger     *zap.Logger
	ready      atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runs crawler.RunStore,
	dispatch *dispatcher.Dispatcher,
	requests RequestValidator,
	sinks SinkValidator,
	idGen IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	s := &Server{
		runs:       runs,
		dispatcher: dispatch,
		requests:   requests,
		sinks:      sinks,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	s.ready.Store(true)

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/", s.banner)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/scrape", s.submitScrape)
		r.Route("/v1/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/result", s.getRunResult)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe, e.g. while shutting down.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) banner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(Banner)); err != nil {
		s.logger.Error("banner write failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	Domain           string   `json:"domain"`
	SeedURLs         []string `json:"seedUrls"`
	WorkerWebhookURL string   `json:"workerWebhookUrl"`
	ResultSink       string   `json:"resultSink"`
}

type scrapeResponse struct {
	Message string `json:"message"`
	Domain  string `json:"domain"`
	RunID   string `json:"run_id"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := crawler.CrawlRequest{
		Domain:     strings.TrimSpace(body.Domain),
		SeedURLs:   body.SeedURLs,
		ResultSink: strings.TrimSpace(body.ResultSink),
	}
	if req.ResultSink == "" {
		req.ResultSink = strings.TrimSpace(body.WorkerWebhookURL)
	}
	if err := s.requests.Validate(req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, crawler.ErrDomainBlocked) {
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}
	if s.sinks != nil {
		if err := s.sinks.Validate(req.ResultSink); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid result sink: %v", err))
			return
		}
	}

	runID, err := s.enqueueRun(r.Context(), req)
	if err != nil {
		s.logger.Warn("enqueue run failed", zap.String("domain", req.Domain), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("run accepted",
		zap.String("run_id", runID),
		zap.String("domain", req.Domain),
		zap.Int("seeds", len(req.SeedURLs)),
	)
	writeJSON(w, http.StatusAccepted, scrapeResponse{
		Message: acceptedMessage,
		Domain:  req.Domain,
		RunID:   runID,
	})
}

func (s *Server) enqueueRun(ctx context.Context, req crawler.CrawlRequest) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := crawler.Run{
		ID:        runID,
		Status:    crawler.RunStatusQueued,
		Request:   req,
		Submitted: now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		RunID:     runID,
		Request:   req,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		run.Status = crawler.RunStatusFailed
		run.ErrorText = "run queue unavailable"
		if updateErr := s.runs.UpdateRun(context.WithoutCancel(ctx), run); updateErr != nil {
			s.logger.Warn("mark run failed", zap.String("run_id", runID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return runID, nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	run, err := s.runs.GetRun(ctx, chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getRunResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	records, err := s.runs.ListRecords(ctx, runID)
	if err != nil {
		s.logger.Error("list records failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch run records")
		return
	}
	if records == nil {
		records = []crawler.PageRecord{}
	}
	writeJSON(w, http.StatusOK, crawler.RunResult{Run: run, Records: records})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
