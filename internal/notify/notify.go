// Package notify delivers operator alerts. Delivery is best-effort: failures
// are logged and dropped, and callers never block on a send.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier accepts one human-readable message. Implementations must return
// immediately.
type Notifier interface {
	Notify(text string)
}

// Sender performs one synchronous delivery attempt.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// ---------------------------------------------------------------------------
// Dispatcher: async queue in front of a Sender
// ---------------------------------------------------------------------------

// DispatcherConfig configures the async dispatcher.
type DispatcherConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// DefaultDispatcherConfig returns defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   256,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher queues messages for a single background sender goroutine.
// Notify never blocks: a full queue drops the message.
type Dispatcher struct {
	sender Sender
	config DispatcherConfig
	queue  chan string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	// Stats.
	queued  atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher. Call Run to start delivering.
func NewDispatcher(sender Sender, config DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = def.SendTimeout
	}
	return &Dispatcher{
		sender: sender,
		config: config,
		queue:  make(chan string, config.QueueSize),
		done:   make(chan struct{}),
	}
}

// Notify enqueues text without blocking.
func (d *Dispatcher) Notify(text string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- text:
		d.queued.Add(1)
	default:
		d.dropped.Add(1)
		log.Warn().Int("queue", cap(d.queue)).Msg("notify: queue full, dropping message")
	}
}

// Run delivers queued messages until Close is called and the queue drains,
// or until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, text)
		}
	}
}

// Close stops accepting messages. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) deliver(ctx context.Context, text string) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			log.Error().Interface("panic", r).Msg("notify: sender panic recovered")
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	if err := d.sender.Send(sendCtx, text); err != nil {
		d.failed.Add(1)
		log.Warn().Err(err).Msg("notify: delivery failed")
		return
	}
	d.sent.Add(1)
}

// DispatcherStats returns dispatcher statistics.
type DispatcherStats struct {
	Queued  int64 `json:"queued"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:  d.queued.Load(),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Pending: len(d.queue),
	}
}

// ---------------------------------------------------------------------------
// LogSender: used when no channel is configured
// ---------------------------------------------------------------------------

// LogSender writes messages to the log instead of an external channel.
type LogSender struct{}

func (LogSender) Send(_ context.Context, text string) error {
	log.Info().Str("message", text).Msg("notify: alert")
	return nil
}
