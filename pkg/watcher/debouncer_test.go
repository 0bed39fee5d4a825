package watcher

import (
	"context"
	"testing"
	"time"
)

func TestDebouncerBatchesBursts(t *testing.T) {
	input := make(chan ChangeEvent, 10)
	d := NewDebouncer(input, 50*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	input <- ChangeEvent{Type: ChangeTypeSource, Paths: []string{"a.src"}}
	input <- ChangeEvent{Type: ChangeTypeSource, Paths: []string{"b.src"}}
	input <- ChangeEvent{Type: ChangeTypeSource, Paths: []string{"a.src"}}

	select {
	case event := <-d.Events():
		if len(event.Paths) != 2 {
			t.Errorf("expected 2 deduplicated paths, got %v", event.Paths)
		}
	case <-time.After(time.Second):
		t.Fatalf("debouncer never flushed")
	}
}

func TestDebouncerFlushesOnClose(t *testing.T) {
	input := make(chan ChangeEvent, 10)
	d := NewDebouncer(input, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	input <- ChangeEvent{Type: ChangeTypeSource, Paths: []string{"a.src"}}
	close(input)

	select {
	case event, ok := <-d.Events():
		if !ok {
			t.Fatalf("output closed without flushing")
		}
		if len(event.Paths) != 1 || event.Paths[0] != "a.src" {
			t.Errorf("flushed paths = %v", event.Paths)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending events lost on close")
	}
}
