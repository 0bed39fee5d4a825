// Package events is the pub/sub bus the driver reports run progress on. The
// web inspector streams it out over SSE; everything else may ignore it.
package events

import (
	"context"
	"encoding/json"
)

// Topic names published by the driver.
const (
	TopicRunStatus = "run_status"
	TopicCycle     = "cycle"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`    // e.g. "detecting", "cycle_done", "finished", "rolled_back"
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic.
	// Context cancellation will close the subscription.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// RunStatus is the coarse run state streamed to clients.
type RunStatus struct {
	State       string `json:"state"` // detecting, compiling, committed, rolled_back, cancelled
	Message     string `json:"message"`
	Cycle       int    `json:"cycle"`
	Invalidated int    `json:"invalidated"`
}

// CycleSummary describes one finished invalidation cycle.
type CycleSummary struct {
	Cycle           int      `json:"cycle"`
	Recompiled      int      `json:"recompiled"`
	PrunedProducts  int      `json:"prunedProducts"`
	ChangedClasses  []string `json:"changedClasses,omitempty"`
	NextInvalidated int      `json:"nextInvalidated"`
}

// RunSummary describes a completed run.
type RunSummary struct {
	Changed     bool     `json:"changed"`
	Cycles      int      `json:"cycles"`
	Recompiled  int      `json:"recompiled"`
	DurationMs  int64    `json:"durationMs"`
	MainClasses []string `json:"mainClasses,omitempty"`
}

// Discard is a Publisher that drops everything, for runs without listeners.
type Discard struct{}

func (Discard) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &discardSub{topic: topic, ch: make(chan Event)}
	go func() {
		<-ctx.Done()
		close(sub.ch)
	}()
	return sub, nil
}

func (Discard) Publish(string, string, interface{}) error { return nil }

func (Discard) Close() error { return nil }

type discardSub struct {
	topic string
	ch    chan Event
}

func (s *discardSub) Topic() string        { return s.topic }
func (s *discardSub) Events() <-chan Event { return s.ch }
func (s *discardSub) Close() error         { return nil }
