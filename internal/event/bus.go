package event

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"loom/internal/logging"
	"loom/internal/metrics"
)

const defaultSubscriberBufferSize = 64

// Event is a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	Logger               *logging.Logger
	Registry             *metrics.Registry
}

// Bus delivers events of one type to any number of subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the event, and the
// drop is counted against the bus.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	registry    *metrics.Registry
	published   atomic.Int64
	dropped     atomic.Int64
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		registry:    opts.Registry,
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	b.registry.SetEventSubscriberCounts(b.busName(), filtered, unfiltered)
	return ch, func() {
		b.removeSubscriber(id)
	}
}

// Publish delivers the event to every matching subscriber in registration
// order. Events published from a single goroutine arrive in publish order.
func (b *Bus[T]) Publish(event T) {
	if b == nil || isNil(event) {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	eventType := b.eventType(event)
	b.published.Add(1)
	b.registry.IncEventPublished(b.busName(), eventType)

	for _, sub := range subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		if !b.nonBlockingSend(sub, event) {
			b.dropped.Add(1)
			b.registry.IncEventDropped(b.busName(), eventType)
			b.logDrop(eventType)
		}
	}
}

func (b *Bus[T]) nonBlockingSend(sub subscription[T], event T) bool {
	return b.safeSend(sub, func() bool {
		select {
		case sub.ch <- event:
			return true
		default:
			return false
		}
	})
}

// safeSend absorbs the send-on-closed-channel panic that can happen when an
// unsubscribe races a publish, dropping the dead subscriber instead of
// crashing the process.
func (b *Bus[T]) safeSend(sub subscription[T], send func() bool) (delivered bool) {
	defer func() {
		if recover() != nil {
			b.removeSubscriber(sub.id)
			delivered = false
		}
	}()
	return send()
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.registry.SetEventSubscriberCounts(b.busName(), 0, 0)
	})
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	var ch chan T
	b.mu.Lock()
	if existing, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		ch = existing.ch
	}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	if ch != nil {
		close(ch)
		b.registry.SetEventSubscriberCounts(b.busName(), filtered, unfiltered)
	}
}

func (b *Bus[T]) countSubscribersLocked() (filtered int, unfiltered int) {
	for _, sub := range b.subscribers {
		if sub.filter == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	return filtered, unfiltered
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func (b *Bus[T]) eventType(event T) string {
	typed, ok := any(event).(Event)
	if !ok {
		return "unknown"
	}
	value := typed.Type()
	if value == "" {
		return "unknown"
	}
	return value
}

func (b *Bus[T]) logDrop(eventType string) {
	if b.options.Logger == nil {
		return
	}
	b.options.Logger.Warn("event dropped", map[string]string{
		"loom.category": "events",
		"bus":           b.busName(),
		"type":          eventType,
	})
}

func isNil[T any](value T) bool {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
