// Package bus implements the kernel's MessageBus: synchronous, in-process
// publish/subscribe with dotted-topic wildcards, point-to-point endpoint
// registration, and correlation-id request/response. It carries no
// persistence — delivery is ordered per publisher and happens on the
// calling goroutine.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handler receives a message published on a topic or sent to an endpoint.
type Handler func(topic string, msg any)

type subscription struct {
	id       string
	pattern  string
	handler  Handler
	priority int
}

// Bus is the MessageBus. Zero value is not usable; construct with New.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	endpoints map[string]Handler
	pending   map[string]chan any
	logger    *slog.Logger
}

// New constructs a Bus. logger is tagged with component=bus, matching the
// teacher's convention of tagging every subsystem logger at construction.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		endpoints: make(map[string]Handler),
		pending:   make(map[string]chan any),
		logger:    logger.With("component", "bus"),
	}
}

// Publish delivers msg synchronously, in priority order (higher first, then
// registration order), to every subscriber whose pattern matches topic.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	matched := make([]*subscription, 0, 4)
	for _, s := range b.subs {
		if topicMatches(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].priority > matched[j].priority })
	for _, s := range matched {
		s.handler(topic, msg)
	}
}

// Subscribe registers handler for every topic matching pattern (dotted
// segments; `*` matches exactly one segment, `>` matches one-or-more
// trailing segments and must be the final token). Higher priority handlers
// run first. Returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler, priority int) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, &subscription{id: id, pattern: pattern, handler: handler, priority: priority})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription by the id returned from Subscribe.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Register binds a single handler to a point-to-point endpoint name. A
// later Send to that endpoint routes directly to it. Registering again on
// the same name replaces the prior handler.
func (b *Bus) Register(endpoint string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[endpoint] = handler
}

// Deregister removes an endpoint's handler.
func (b *Bus) Deregister(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, endpoint)
}

// Send routes msg to the handler registered at endpoint. A missing endpoint
// is logged and dropped, not an error — matching the bus's no-persistence,
// best-effort point-to-point contract.
func (b *Bus) Send(endpoint string, msg any) {
	b.mu.RLock()
	h, ok := b.endpoints[endpoint]
	b.mu.RUnlock()
	if !ok {
		b.logger.Warn("send to unknown endpoint dropped", "endpoint", endpoint)
		return
	}
	h(endpoint, msg)
}

// correlatedMessage wraps a request with a correlation id an endpoint's
// handler must echo back via Reply for Request to resolve.
type correlatedMessage struct {
	CorrelationID string
	Body          any
}

// Reply resolves a pending Request waiting on correlationID. Handlers that
// receive a correlatedMessage from Send/Publish call this with their result.
func (b *Bus) Reply(correlationID string, response any) {
	b.mu.Lock()
	ch, ok := b.pending[correlationID]
	if ok {
		delete(b.pending, correlationID)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("reply for unknown or already-resolved correlation id dropped", "correlation_id", correlationID)
		return
	}
	ch <- response
}

// Request sends msg to endpoint wrapped with a fresh correlation id and
// blocks until Reply is called with that id or ctx is done.
func (b *Bus) Request(ctx context.Context, endpoint string, msg any) (any, error) {
	correlationID := uuid.NewString()
	ch := make(chan any, 1)

	b.mu.Lock()
	b.pending[correlationID] = ch
	b.mu.Unlock()

	b.Send(endpoint, correlatedMessage{CorrelationID: correlationID, Body: msg})

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, correlationID)
		b.mu.Unlock()
		return nil, fmt.Errorf("request to %q: %w", endpoint, ctx.Err())
	}
}

// CorrelationIDOf extracts the correlation id and body from a message
// delivered to an endpoint handler that was addressed via Request. ok is
// false if msg was not a correlated request.
func CorrelationIDOf(msg any) (correlationID string, body any, ok bool) {
	cm, ok := msg.(correlatedMessage)
	if !ok {
		return "", nil, false
	}
	return cm.CorrelationID, cm.Body, true
}

// topicMatches reports whether topic satisfies pattern under NATS-style
// dotted wildcards: `*` matches exactly one segment, `>` matches one or
// more trailing segments and must be the final token.
func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")

	for i, p := range pSegs {
		if p == ">" {
			return i < len(tSegs)
		}
		if i >= len(tSegs) {
			return false
		}
		if p != "*" && p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
