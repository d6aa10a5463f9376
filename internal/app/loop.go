package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/platform/correlation"
)

// pollLoop runs tick once on start and then on every interval until stopped.
// Start and Stop are idempotent; Stop cancels the pending wait and joins the
// goroutine, so it returns as soon as the current tick finishes.
type pollLoop struct {
	name     string
	interval time.Duration
	clock    clockwork.Clock
	tick     func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPollLoop(name string, interval time.Duration, clock clockwork.Clock, tick func(ctx context.Context)) *pollLoop {
	return &pollLoop{name: name, interval: interval, clock: clock, tick: tick}
}

func (l *pollLoop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)

	slog.Info("Poller started", "poller", l.name, "interval", l.interval)
}

func (l *pollLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	slog.Info("Poller stopped", "poller", l.name)
}

func (l *pollLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *pollLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	l.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.runTick(ctx)
		}
	}
}

// runTick isolates a panicking tick so the loop survives to the next interval.
func (l *pollLoop) runTick(ctx context.Context) {
	tickCtx := correlation.WithID(ctx, correlation.NewID())
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(tickCtx, "Poller tick panicked", "poller", l.name, "panic", r)
		}
	}()
	l.tick(tickCtx)
}
