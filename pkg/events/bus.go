package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/incbuild/incc/pkg/logging"
)

// Bus is the in-process Publisher. Each topic keeps its last event so a late
// subscriber (a browser attaching mid-run) immediately sees current state.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*busSubscription]bool
	version       map[string]int
	last          map[string]*Event
	closed        bool
}

func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string]map[*busSubscription]bool),
		version:       make(map[string]int),
		last:          make(map[string]*Event),
	}
}

// Subscribe creates a new subscription to a topic. The last published event
// on the topic, if any, is replayed immediately.
func (b *Bus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("publisher is closed")
	}
	sub := &busSubscription{
		topic:  topic,
		events: make(chan Event, 100), // buffered so publishers never block
		bus:    b,
	}
	if b.subscriptions[topic] == nil {
		b.subscriptions[topic] = make(map[*busSubscription]bool)
	}
	b.subscriptions[topic][sub] = true
	replay := b.last[topic]
	b.mu.Unlock()

	if replay != nil {
		sub.events <- *replay
	}

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Publish sends an event to all subscribers of a topic.
func (b *Bus) Publish(topic string, eventType string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publisher is closed")
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	b.version[topic]++
	event := Event{
		Topic:   topic,
		Type:    eventType,
		Data:    jsonData,
		Version: b.version[topic],
	}
	b.last[topic] = &event

	for sub := range b.subscriptions[topic] {
		select {
		case sub.events <- event:
		default:
			logging.Warn("dropping event for slow subscriber", "topic", topic, "type", eventType)
		}
	}
	return nil
}

// Close shuts down the publisher and all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscriptions {
		for sub := range subs {
			close(sub.events)
			sub.closed = true
		}
	}
	b.subscriptions = make(map[string]map[*busSubscription]bool)
	return nil
}

type busSubscription struct {
	topic  string
	events chan Event
	bus    *Bus
	closed bool
}

func (s *busSubscription) Topic() string { return s.topic }

func (s *busSubscription) Events() <-chan Event { return s.events }

func (s *busSubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if subs := s.bus.subscriptions[s.topic]; subs != nil {
		delete(subs, s)
	}
	close(s.events)
	return nil
}
