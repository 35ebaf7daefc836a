// Package worker executes queued domain runs end to end.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/metrics"
)

// Crawler runs one domain crawl. *crawler.Engine satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.RunReport, error)
}

// Config controls Worker behavior.
type Config struct {
	// DeliveryTimeout bounds one delivery, including its retries.
	DeliveryTimeout time.Duration
}

// Worker consumes queue items, crawls, retains records and delivers them.
type Worker struct {
	queue  crawler.Queue
	store  crawler.RunStore
	engine Crawler
	sink   crawler.ResultSink
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker. A nil sink disables delivery.
func New(
	queue crawler.Queue,
	store crawler.RunStore,
	engine Crawler,
	sink crawler.ResultSink,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		store:  store,
		engine: engine,
		sink:   sink,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		if _, err := w.Execute(ctx, item); err != nil {
			w.logger.Warn("run failed", zap.String("run_id", item.RunID), zap.Error(err))
		}
	}
}

// Execute crawls one item and returns the final run state. The returned
// error is the crawl failure, if any; delivery failures are recorded on the
// run instead.
func (w *Worker) Execute(ctx context.Context, item crawler.QueueItem) (crawler.Run, error) {
	logger := w.logger.With(
		zap.String("run_id", item.RunID),
		zap.String("domain", item.Request.Domain),
	)
	run, err := w.loadRun(ctx, item)
	if err != nil {
		return crawler.Run{}, err
	}

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	run.Status = crawler.RunStatusRunning
	w.updateRun(ctx, logger, run)
	if updated, getErr := w.store.GetRun(ctx, run.ID); getErr == nil {
		run = updated
	}

	report, crawlErr := w.engine.Crawl(ctx, item.Request)
	if crawlErr != nil {
		run.Status = crawler.RunStatusFailed
		run.ErrorText = crawlErr.Error()
		envelope := crawler.ErrorEnvelope{
			Error:   true,
			Domain:  item.Request.Domain,
			Message: "Scraping process failed: " + crawlErr.Error(),
		}
		if err := w.deliver(ctx, func(dctx context.Context) error {
			return w.sink.DeliverError(dctx, item.Request.ResultSink, envelope)
		}); err != nil {
			logger.Warn("error envelope delivery failed", zap.Error(err))
		}
		w.finish(ctx, logger, run)
		return run, crawlErr
	}

	run.Counters = report.Counters
	run.Stop = report.Stop
	run.Status = crawler.RunStatusSucceeded
	if report.Stop == crawler.StopCanceled {
		run.Status = crawler.RunStatusCanceled
	}
	if err := w.store.SaveRecords(context.WithoutCancel(ctx), run.ID, report.Records); err != nil {
		logger.Error("save records failed", zap.Error(err))
	}

	if run.Status == crawler.RunStatusSucceeded && item.Request.ResultSink != "" && len(report.Records) > 0 {
		err := w.deliver(ctx, func(dctx context.Context) error {
			return w.sink.Deliver(dctx, item.Request.ResultSink, item.Request.Domain, report.Records)
		})
		if err != nil {
			run.ErrorText = err.Error()
		} else {
			run.Delivered = true
		}
	}

	logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.String("stop_reason", string(run.Stop)),
		zap.Int("records", len(report.Records)),
		zap.Int("pages_dispatched", report.Counters.PagesDispatched),
		zap.Duration("duration", report.Duration),
		zap.Bool("delivered", run.Delivered),
	)
	w.finish(ctx, logger, run)
	return run, nil
}

func (w *Worker) loadRun(ctx context.Context, item crawler.QueueItem) (crawler.Run, error) {
	run, err := w.store.GetRun(ctx, item.RunID)
	if err == nil {
		return run, nil
	}
	run = crawler.Run{
		ID:        item.RunID,
		Status:    crawler.RunStatusQueued,
		Request:   item.Request,
		Submitted: w.clock.Now(),
	}
	if err := w.store.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, err
	}
	return run, nil
}

func (w *Worker) deliver(ctx context.Context, send func(context.Context) error) error {
	if w.sink == nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.DeliveryTimeout)
	defer cancel()
	return send(dctx)
}

func (w *Worker) finish(ctx context.Context, logger *zap.Logger, run crawler.Run) {
	w.updateRun(ctx, logger, run)
	metrics.ObserveRun(run.Status)
}

func (w *Worker) updateRun(ctx context.Context, logger *zap.Logger, run crawler.Run) {
	if err := w.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("update run failed", zap.String("status", string(run.Status)), zap.Error(err))
	}
}

