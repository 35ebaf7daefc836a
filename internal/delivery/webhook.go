package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// WebhookConfig controls the HTTP POST sink.
type WebhookConfig struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// Webhook posts payloads as JSON to http(s) targets.
type Webhook struct {
	client *http.Client
	retry  crawler.RetryPolicy
	cfg    WebhookConfig
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

var _ Sink = (*Webhook)(nil)

// NewWebhook builds a webhook sink. A nil client uses a client with cfg.Timeout.
func NewWebhook(client *http.Client, cfg WebhookConfig, logger *zap.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		client: client,
		retry:  crawler.NewExponentialRetryPolicy(cfg.MaxRetries),
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Send implements Sink.
func (w *Webhook) Send(ctx context.Context, target *url.URL, payload Payload) error {
	body, err := payload.Body()
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, target.String(), body)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || !w.retry.ShouldRetry(err, attempt) {
			return err
		}
		delay := w.retry.Backoff(attempt)
		w.logger.Debug("retrying webhook",
			zap.String("target", target.Redacted()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if sleepErr := w.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("webhook retry interrupted: %w", err)
		}
	}
}

func (w *Webhook) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err: fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", w.cfg.UserAgent)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentError{err: statusErr}
	}
	return statusErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
