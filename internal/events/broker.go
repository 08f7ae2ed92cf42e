package events

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stationsafe/scanner-go/internal/logger"
)

// DefaultBufferSize is the per-consumer queue length
const DefaultBufferSize = 256

// Broker fans events out to registered consumers without blocking the publisher
type Broker[T any] struct {
	name       string
	bufferSize int
	logger     logger.Logger
	onDrop     DropHandler

	mu     sync.RWMutex
	subs   map[string]*subscription[T]
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

type subscription[T any] struct {
	consumer Consumer[T]
	ch       chan T
	done     chan struct{}
}

// Option configures a Broker
type Option func(*brokerOptions)

type brokerOptions struct {
	bufferSize int
	logger     logger.Logger
	onDrop     DropHandler
}

// WithBufferSize sets the per-consumer queue length
func WithBufferSize(size int) Option {
	return func(o *brokerOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithLogger sets the broker logger
func WithLogger(log logger.Logger) Option {
	return func(o *brokerOptions) {
		o.logger = log
	}
}

// WithDropHandler registers a callback for dropped events, typically a metric
func WithDropHandler(fn DropHandler) Option {
	return func(o *brokerOptions) {
		o.onDrop = fn
	}
}

// NewBroker creates a broker; name is used in logs and drop callbacks
func NewBroker[T any](name string, opts ...Option) *Broker[T] {
	o := brokerOptions{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = GetLogger()
	}

	return &Broker[T]{
		name:       name,
		bufferSize: o.bufferSize,
		logger:     o.logger.With(logger.String("broker", name)),
		onDrop:     o.onDrop,
		subs:       make(map[string]*subscription[T]),
	}
}

// RegisterConsumer starts delivering events to consumer.
// The returned function unregisters it and waits for its queue to drain.
func (b *Broker[T]) RegisterConsumer(consumer Consumer[T]) (func(), error) {
	return b.register(consumer, b.bufferSize)
}

// RegisterConsumerWithBuffer is RegisterConsumer with a queue of size events
// instead of the broker default. Sizes below 1 use the default.
func (b *Broker[T]) RegisterConsumerWithBuffer(consumer Consumer[T], size int) (func(), error) {
	if size < 1 {
		size = b.bufferSize
	}
	return b.register(consumer, size)
}

func (b *Broker[T]) register(consumer Consumer[T], size int) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker %s is shut down", b.name)
	}

	name := consumer.Name()
	if _, exists := b.subs[name]; exists {
		return nil, fmt.Errorf("consumer %s already registered", name)
	}

	sub := &subscription[T]{
		consumer: consumer,
		ch:       make(chan T, size),
		done:     make(chan struct{}),
	}
	b.subs[name] = sub
	go b.run(sub)

	b.logger.Debug("registered consumer", logger.String("consumer", name), logger.Int("buffer", size))

	var once sync.Once
	return func() {
		once.Do(func() { b.unregister(name, sub) })
	}, nil
}

// Subscribe registers a function consumer
func (b *Broker[T]) Subscribe(name string, fn func(T)) (func(), error) {
	return b.RegisterConsumer(ConsumerFunc[T]{ConsumerName: name, Fn: fn})
}

// SubscribeWithBuffer registers a function consumer with its own queue length
func (b *Broker[T]) SubscribeWithBuffer(name string, size int, fn func(T)) (func(), error) {
	return b.RegisterConsumerWithBuffer(ConsumerFunc[T]{ConsumerName: name, Fn: fn}, size)
}

func (b *Broker[T]) unregister(name string, sub *subscription[T]) {
	b.mu.Lock()
	if current, ok := b.subs[name]; ok && current == sub {
		delete(b.subs, name)
		close(sub.ch)
	}
	b.mu.Unlock()

	<-sub.done
}

// TryPublish queues event for every consumer without blocking.
// It returns false if any consumer's queue was full and the event was dropped for it.
func (b *Broker[T]) TryPublish(event T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}

	b.published.Add(1)
	ok := true
	for name, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			ok = false
			b.dropped.Add(1)
			b.logger.Debug("event dropped, consumer queue full", logger.String("consumer", name))
			if b.onDrop != nil {
				b.onDrop(b.name, name)
			}
		}
	}
	return ok
}

func (b *Broker[T]) run(sub *subscription[T]) {
	defer close(sub.done)
	for event := range sub.ch {
		b.deliver(sub.consumer, event)
	}
}

func (b *Broker[T]) deliver(consumer Consumer[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("consumer panicked",
				logger.String("consumer", consumer.Name()),
				logger.Any("panic", fmt.Sprint(r)))
		}
	}()

	if err := consumer.ProcessEvent(event); err != nil {
		b.errors.Add(1)
		b.logger.Warn("consumer error",
			logger.String("consumer", consumer.Name()),
			logger.Error(err))
		return
	}
	b.delivered.Add(1)
}

// Consumers returns the registered consumer names, sorted
func (b *Broker[T]) Consumers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.subs))
}

// Shutdown stops accepting events and waits up to timeout for queues to drain
func (b *Broker[T]) Shutdown(timeout time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription[T], 0, len(b.subs))
	for name, sub := range b.subs {
		close(sub.ch)
		subs = append(subs, sub)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case <-deadline.C:
			b.logger.Warn("broker shutdown timeout exceeded", logger.Duration("timeout", timeout))
			return fmt.Errorf("broker %s shutdown timeout exceeded", b.name)
		}
	}
	return nil
}

// Stats returns current counters
func (b *Broker[T]) Stats() Stats {
	return Stats{
		EventsPublished: b.published.Load(),
		EventsDelivered: b.delivered.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errors.Load(),
	}
}
