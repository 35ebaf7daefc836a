// Package memory captures deliveries in process, for tests and local runs.
package memory

import (
	"context"
	"net/url"
	"sync"

	"github.com/JakeFAU/campus-crawler/internal/delivery"
)

// Publisher stores delivered payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one Send call.
type PublishedMessage struct {
	Target  string
	Payload delivery.Payload
}

var _ delivery.Sink = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Send implements delivery.Sink.
func (p *Publisher) Send(_ context.Context, target *url.URL, payload delivery.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Target: target.String(), Payload: payload})
	return nil
}

// Messages returns the recorded deliveries.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
