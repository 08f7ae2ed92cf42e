// Package events provides an asynchronous, non-blocking fan-out broker.
// Publishers never wait on consumers: each consumer has its own buffered
// queue and goroutine, so delivery order is preserved per consumer and a slow
// consumer only loses its own events.
package events

// Consumer processes events delivered by a Broker
type Consumer[T any] interface {
	// Name identifies the consumer in logs, stats and for duplicate detection
	Name() string

	// ProcessEvent handles a single event. Errors are logged and counted.
	ProcessEvent(event T) error
}

// ConsumerFunc adapts a plain function to the Consumer interface
type ConsumerFunc[T any] struct {
	ConsumerName string
	Fn           func(T)
}

func (c ConsumerFunc[T]) Name() string { return c.ConsumerName }

func (c ConsumerFunc[T]) ProcessEvent(event T) error {
	c.Fn(event)
	return nil
}

// Stats holds broker counters
type Stats struct {
	EventsPublished uint64
	EventsDelivered uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}

// DropHandler is called when an event could not be queued for a consumer
type DropHandler func(broker, consumer string)
