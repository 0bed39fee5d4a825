package watcher

import (
	"context"
	"time"

	"github.com/incbuild/incc/pkg/logging"
)

// Debouncer batches rapid file system events so one editor save burst
// triggers one recompile, not ten.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Events returns the debounced output channel.
func (d *Debouncer) Events() <-chan ChangeEvent {
	return d.output
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet       *time.Timer
		maxWait     *time.Timer
		accumulated = make(map[string]struct{})
	)
	quietC := func() <-chan time.Time {
		if quiet == nil {
			return nil
		}
		return quiet.C
	}
	maxWaitC := func() <-chan time.Time {
		if maxWait == nil {
			return nil
		}
		return maxWait.C
	}

	flush := func() {
		if len(accumulated) == 0 {
			return
		}
		paths := make([]string, 0, len(accumulated))
		for p := range accumulated {
			paths = append(paths, p)
		}
		logging.Debug("flushing accumulated source changes", "count", len(paths))
		d.output <- ChangeEvent{Type: ChangeTypeSource, Paths: paths, Timestamp: time.Now()}
		accumulated = make(map[string]struct{})
		if quiet != nil {
			quiet.Stop()
			quiet = nil
		}
		if maxWait != nil {
			maxWait.Stop()
			maxWait = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			for _, p := range event.Paths {
				accumulated[p] = struct{}{}
			}
			if quiet == nil {
				quiet = time.NewTimer(d.quietPeriod)
			} else {
				quiet.Reset(d.quietPeriod)
			}
			if maxWait == nil {
				maxWait = time.NewTimer(d.maxWait)
			}
		case <-quietC():
			flush()
		case <-maxWaitC():
			flush()
		}
	}
}
