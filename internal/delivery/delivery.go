// Package delivery hands finished runs to result sinks chosen by target URL scheme.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/metrics"
)

// Payload kinds, also published as the "kind" attribute by message sinks.
const (
	KindRecords = "records"
	KindError   = "error"
)

// Payload is the content of one delivery: either the records of a run or the
// error envelope of a run that failed outright.
type Payload struct {
	Domain  string
	Records []crawler.PageRecord
	Failure *crawler.ErrorEnvelope
}

// Kind reports whether the payload carries records or a failure.
func (p Payload) Kind() string {
	if p.Failure != nil {
		return KindError
	}
	return KindRecords
}

// Count returns the number of records carried.
func (p Payload) Count() int {
	return len(p.Records)
}

// Body encodes the wire form: a JSON array of records, or the error envelope.
func (p Payload) Body() ([]byte, error) {
	if p.Failure != nil {
		body, err := json.Marshal(p.Failure)
		if err != nil {
			return nil, fmt.Errorf("marshal error envelope: %w", err)
		}
		return body, nil
	}
	records := p.Records
	if records == nil {
		records = []crawler.PageRecord{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	return body, nil
}

// Sink delivers one payload to the destination named by target.
type Sink interface {
	Send(ctx context.Context, target *url.URL, payload Payload) error
}

// Router implements crawler.ResultSink by dispatching on the target scheme.
type Router struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *zap.Logger
}

var _ crawler.ResultSink = (*Router)(nil)

// NewRouter returns a Router with no sinks registered.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		sinks:  make(map[string]Sink),
		logger: logger,
	}
}

// Register binds sink to every given scheme, replacing earlier bindings.
func (r *Router) Register(sink Sink, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.sinks[strings.ToLower(scheme)] = sink
	}
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sinks))
	for scheme := range r.sinks {
		out = append(out, scheme)
	}
	return out
}

// Validate checks that target parses and names a registered scheme. An empty
// target is valid and means direct response only.
func (r *Router) Validate(target string) error {
	if strings.TrimSpace(target) == "" {
		return nil
	}
	_, _, err := r.resolve(target)
	return err
}

// Deliver sends the records of a finished run. Nothing is sent for an empty
// target or an empty record set.
func (r *Router) Deliver(ctx context.Context, target string, domain string, records []crawler.PageRecord) error {
	if strings.TrimSpace(target) == "" || len(records) == 0 {
		return nil
	}
	return r.send(ctx, target, Payload{Domain: domain, Records: records})
}

// DeliverError sends the error envelope of a failed run.
func (r *Router) DeliverError(ctx context.Context, target string, envelope crawler.ErrorEnvelope) error {
	if strings.TrimSpace(target) == "" {
		return nil
	}
	envelope.Error = true
	return r.send(ctx, target, Payload{Domain: envelope.Domain, Failure: &envelope})
}

func (r *Router) send(ctx context.Context, target string, payload Payload) error {
	sink, u, err := r.resolve(target)
	if err != nil {
		metrics.ObserveDelivery("", err)
		return fmt.Errorf("%w: %w", crawler.ErrDeliveryFailure, err)
	}
	err = sink.Send(ctx, u, payload)
	metrics.ObserveDelivery(u.Scheme, err)
	if err != nil {
		r.logger.Warn("delivery failed",
			zap.String("sink", u.Scheme),
			zap.String("domain", payload.Domain),
			zap.String("kind", payload.Kind()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %w", crawler.ErrDeliveryFailure, u.Scheme, err)
	}
	r.logger.Info("delivery complete",
		zap.String("sink", u.Scheme),
		zap.String("domain", payload.Domain),
		zap.String("kind", payload.Kind()),
		zap.Int("count", payload.Count()),
	)
	return nil
}

func (r *Router) resolve(target string) (Sink, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, nil, fmt.Errorf("parse target: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil, nil, fmt.Errorf("target %q has no scheme", target)
	}
	u.Scheme = scheme
	r.mu.RLock()
	sink, ok := r.sinks[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no sink registered for scheme %q", scheme)
	}
	return sink, u, nil
}

// ObjectName is the object or file name used by blob sinks:
// <prefix>/<domain>/<unix-nanos>.json with empty parts skipped.
func ObjectName(prefix, domain string, stamp int64) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if domain = strings.Trim(domain, "/"); domain != "" {
		parts = append(parts, domain)
	}
	parts = append(parts, fmt.Sprintf("%d.json", stamp))
	return strings.Join(parts, "/")
}
