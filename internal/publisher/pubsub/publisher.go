// Package pubsub delivers run results to Google Cloud Pub/Sub topics.
package pubsub

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/campus-crawler/internal/delivery"
)

// Publisher sends each payload as one message to the topic named by a
// pubsub://<topic> target.
type Publisher struct {
	client *pubsub.Client
	owned  bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

var _ delivery.Sink = (*Publisher)(nil)

// New opens a Pub/Sub client for projectID using Application Default Credentials.
func New(ctx context.Context, projectID string) (*Publisher, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := NewWithClient(client)
	p.owned = true
	return p, nil
}

// NewWithClient wraps an existing client. Close does not close it.
func NewWithClient(client *pubsub.Client) *Publisher {
	return &Publisher{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Send implements delivery.Sink and waits for the server ack.
func (p *Publisher) Send(ctx context.Context, target *url.URL, payload delivery.Payload) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	name := topicName(target)
	if name == "" {
		return fmt.Errorf("pubsub target %q has no topic", target.String())
	}
	data, err := payload.Body()
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"domain": payload.Domain,
			"count":  strconv.Itoa(payload.Count()),
			"kind":   payload.Kind(),
		},
	}
	if _, err := p.topic(name).Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	return nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending publishes and releases the client when New opened it.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if p.owned && p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func topicName(target *url.URL) string {
	if target == nil {
		return ""
	}
	if target.Host != "" {
		return target.Host
	}
	return strings.Trim(target.Path, "/")
}
