// Package eventbus fans domain events out to independent listeners.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/internal/observability"
)

// Policy selects the backpressure behaviour for one listener's queue.
type Policy int

const (
	// DropOldest discards the oldest queued event when the queue is full.
	// Suitable for non-critical observers such as UI bridges.
	DropOldest Policy = iota
	// Block stalls the publisher until the listener drains. Reserved for
	// listeners that must not lose events; it never stalls other listeners.
	Block
)

// Listener consumes events delivered in publication order.
type Listener func(events.Event)

// Bus delivers every published event to each registered listener.
type Bus interface {
	Publish(evt events.Event)
	Subscribe(name string, policy Policy, fn Listener) Subscription
	Close()
}

// Subscription identifies one registration and allows its removal.
type Subscription struct {
	id  string
	bus *MemoryBus
}

// Cancel removes the listener. Events already queued may still be delivered.
func (s Subscription) Cancel() {
	if s.bus != nil {
		s.bus.unsubscribe(s.id)
	}
}

// MemoryConfig sizes the in-memory bus.
type MemoryConfig struct {
	QueueSize int
	Metrics   *DeliveryMetrics
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

type subscriber struct {
	id     string
	name   string
	policy Policy
	ch     chan events.Event
	quit   chan struct{}
}

// MemoryBus is the in-process Bus implementation. Each listener is served
// from its own bounded queue by its own goroutine, so a slow listener
// never stalls delivery to the others.
type MemoryBus struct {
	cfg MemoryConfig

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
	wg     conc.WaitGroup

	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
	listenerGauge    metric.Int64UpDownCounter
}

// NewMemoryBus constructs a memory-backed event bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	bus := &MemoryBus{
		cfg:  cfg,
		subs: make(map[string]*subscriber),
	}

	meter := otel.Meter("ctpgate/eventbus")
	bus.publishedCounter, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.droppedCounter, _ = meter.Int64Counter("eventbus.events.dropped",
		metric.WithDescription("Number of events dropped by listener backpressure"),
		metric.WithUnit("{event}"))
	bus.listenerGauge, _ = meter.Int64UpDownCounter("eventbus.listeners",
		metric.WithDescription("Number of registered listeners"),
		metric.WithUnit("{listener}"))

	return bus
}

// Subscribe registers a listener under the given backpressure policy.
func (b *MemoryBus) Subscribe(name string, policy Policy, fn Listener) Subscription {
	sub := &subscriber{
		id:     uuid.NewString(),
		name:   name,
		policy: policy,
		ch:     make(chan events.Event, b.cfg.QueueSize),
		quit:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Subscription{}
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	if b.listenerGauge != nil {
		b.listenerGauge.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("listener", name)))
	}

	b.wg.Go(func() {
		for {
			select {
			case evt := <-sub.ch:
				deliver(sub.name, fn, evt)
			case <-sub.quit:
				// Drain what was queued before the quit, then stop.
				for {
					select {
					case evt := <-sub.ch:
						deliver(sub.name, fn, evt)
					default:
						return
					}
				}
			}
		}
	})

	return Subscription{id: sub.id, bus: b}
}

func deliver(name string, fn Listener, evt events.Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("event listener panicked",
				observability.String("listener", name),
				observability.Field{Key: "panic", Value: r},
				observability.String("event_kind", string(evt.Kind)))
		}
	}()
	fn(evt)
}

// Publish enqueues the event for every registered listener. Delivery to
// each listener preserves publication order.
func (b *MemoryBus) Publish(evt events.Event) {
	start := time.Now()
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	n := len(b.subs)
	for _, sub := range b.subs {
		b.enqueue(sub, evt)
	}
	b.mu.RUnlock()

	if b.publishedCounter != nil {
		b.publishedCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("event_kind", string(evt.Kind))))
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.ObservePublish(n, time.Since(start))
	}
}

func (b *MemoryBus) enqueue(sub *subscriber, evt events.Event) {
	if sub.policy == Block {
		select {
		case sub.ch <- evt:
		case <-sub.quit:
		}
		return
	}
	for {
		select {
		case sub.ch <- evt:
			return
		default:
		}
		select {
		case dropped := <-sub.ch:
			if b.droppedCounter != nil {
				b.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(
					attribute.String("listener", sub.name),
					attribute.String("event_kind", string(dropped.Kind))))
			}
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.ObserveDrop(sub.name)
			}
		default:
		}
	}
}

func (b *MemoryBus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	close(sub.quit)
	if b.listenerGauge != nil {
		b.listenerGauge.Add(context.Background(), -1,
			metric.WithAttributes(attribute.String("listener", sub.name)))
	}
}

// Close stops all listener goroutines after draining their queues.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.quit)
	}
	b.wg.Wait()
}
