package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Event 带类型的事件
type Event[T comparable] interface {
	EventType() T
}

type Handler[E any] func(ctx context.Context, event E) error

type Bus[T comparable, E Event[T]] struct {
	mutex       sync.RWMutex
	subscribers map[T]map[uint64]Handler[E]
	wildcard    map[uint64]Handler[E]
	counter     uint64
}

func NewBus[T comparable, E Event[T]]() *Bus[T, E] {
	return &Bus[T, E]{
		subscribers: make(map[T]map[uint64]Handler[E]),
		wildcard:    make(map[uint64]Handler[E]),
	}
}

func (b *Bus[T, E]) Subscribe(eventType T, handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[uint64]Handler[E])
	}
	b.subscribers[eventType][id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		handlers, ok := b.subscribers[eventType]
		if ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subscribers, eventType)
			}
		}
		b.mutex.Unlock()
	}
}

// SubscribeAll 订阅所有类型的事件
func (b *Bus[T, E]) SubscribeAll(handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	b.wildcard[id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		delete(b.wildcard, id)
		b.mutex.Unlock()
	}
}

func (b *Bus[T, E]) Publish(ctx context.Context, event E) error {
	b.mutex.RLock()
	handlersMap := b.subscribers[event.EventType()]
	handlers := make([]Handler[E], 0, len(handlersMap)+len(b.wildcard))
	for _, handler := range handlersMap {
		handlers = append(handlers, handler)
	}
	for _, handler := range b.wildcard {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
