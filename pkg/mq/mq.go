package mq

import (
	"errors"
	"sync"
)

type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber registers handler for topic. The returned cancel func
// removes the subscription and is safe to call more than once.
type Subscriber interface {
	Subscribe(topic string, handler func([]byte) error) (cancel func(), err error)
}

type Noop struct{}

func (Noop) Publish(topic string, payload []byte) error { return nil }
func (Noop) Subscribe(topic string, handler func([]byte) error) (func(), error) {
	return func() {}, nil
}

// Broker fans each published payload out to the topic's subscribers,
// synchronously and in subscription order.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte) error
	order  map[string][]int
}

func NewBroker() *Broker {
	return &Broker{
		subs:  map[string]map[int]func([]byte) error{},
		order: map[string][]int{},
	}
}

func (b *Broker) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	handlers := make([]func([]byte) error, 0, len(b.order[topic]))
	for _, id := range b.order[topic] {
		handlers = append(handlers, b.subs[topic][id])
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Broker) Subscribe(topic string, handler func([]byte) error) (func(), error) {
	if handler == nil {
		return nil, errors.New("mq: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = map[int]func([]byte) error{}
	}
	b.subs[topic][id] = handler
	b.order[topic] = append(b.order[topic], id)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}, nil
}

func (b *Broker) unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], id)
	ids := b.order[topic]
	for i, v := range ids {
		if v == id {
			b.order[topic] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// Subscribers reports the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
