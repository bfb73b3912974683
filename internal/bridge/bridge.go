// Package bridge adapts push-callback event sources into pollable streams.
//
// A producer (an SSE connection callback, the notification sink) calls
// Enqueue from its own goroutine; a single consumer receives the records in
// FIFO order from the channel returned by Stream. The consumer loop drains
// everything queued, then idles for the poll interval instead of busy-waiting,
// so delivery latency is bounded by one interval. The queue itself is
// unbounded; a stalled consumer grows it.
package bridge

import (
	"context"
	"io"
	"sync"
	"time"
)

// Bridge is a FIFO queue between one push-style producer and one polling consumer.
type Bridge[T any] struct {
	interval time.Duration

	mu    sync.Mutex
	queue []T
}

// New creates a bridge that drains its queue every interval.
func New[T any](interval time.Duration) *Bridge[T] {
	return &Bridge[T]{interval: interval}
}

// Enqueue appends a record to the queue. Never blocks.
func (b *Bridge[T]) Enqueue(v T) {
	b.mu.Lock()
	b.queue = append(b.queue, v)
	b.mu.Unlock()
}

// Len returns the number of queued records.
func (b *Bridge[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bridge[T]) drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}

// Stream starts the consumer loop and returns its output channel.
//
// The loop drains all queued records in insertion order, then sleeps for the
// poll interval before checking again. It runs until ctx is cancelled; on
// every exit path the channel is closed and source, when non-nil, is closed
// too. source is the underlying push connection whose lifetime is scoped to
// the stream's consumption.
func (b *Bridge[T]) Stream(ctx context.Context, source io.Closer) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		if source != nil {
			defer func() { _ = source.Close() }()
		}

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			for _, v := range b.drain() {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
