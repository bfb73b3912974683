// Package notify carries best-effort user-facing notifications from the data
// layer to whatever surface displays them. The sink never blocks the caller;
// a consumer polls the accumulated entries at a fixed interval.
package notify

import (
	"context"
	"time"

	"github.com/vpolkhovsky/chatx/internal/bridge"
	"go.uber.org/zap"
)

// Notifier is the sink the gateway and reconciliation layer report through.
type Notifier interface {
	Notify(category, message string)
}

// Func adapts a plain function to the Notifier interface.
type Func func(category, message string)

// Notify implements Notifier.
func (f Func) Notify(category, message string) { f(category, message) }

// Entry is one notification.
type Entry struct {
	Category string
	Message  string
	At       time.Time
}

// Center is the process-wide notification queue. It is constructed once by
// the composition root and injected everywhere a Notifier is needed.
type Center struct {
	bridge *bridge.Bridge[Entry]
	logger *zap.Logger
}

// NewCenter creates a notification center polled at the given interval.
func NewCenter(interval time.Duration, logger *zap.Logger) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Center{
		bridge: bridge.New[Entry](interval),
		logger: logger,
	}
}

// Notify enqueues a notification. Fire-and-forget; never blocks.
func (c *Center) Notify(category, message string) {
	c.logger.Warn("notification",
		zap.String("category", category),
		zap.String("message", message),
	)
	c.bridge.Enqueue(Entry{Category: category, Message: message, At: time.Now()})
}

// Stream returns the pollable notification sequence. Entries queued while no
// consumer is attached are delivered once consumption starts.
func (c *Center) Stream(ctx context.Context) <-chan Entry {
	return c.bridge.Stream(ctx, nil)
}

// Pending returns the number of undelivered notifications.
func (c *Center) Pending() int {
	return c.bridge.Len()
}
