// Package notify hands credentials and escalation notices to the outbound
// messaging collaborator without blocking the request that produced them.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
)

type Kind string

const (
	KindCredential Kind = "credential"
	KindEscalation Kind = "escalation"
)

// DefaultEnqueueTimeout bounds how long a sender waits for room in a full queue.
const DefaultEnqueueTimeout = 2 * time.Second

// ErrQueueFull is returned when the queue stayed full for the whole enqueue timeout.
var ErrQueueFull = errors.New("notification queue is full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notification dispatcher is closed")

type Message struct {
	Kind      Kind
	Recipient domain.User
	// Authority is the role that must act on an escalated request.
	Authority  domain.Role
	Credential string
}

// LogValue keeps the credential out of every log line.
func (m Message) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(m.Kind)),
		slog.Int64("recipient_id", m.Recipient.Id),
		slog.String("authority", string(m.Authority)),
	)
}

// Sink is the outbound transport (mail, SMS, portal inbox).
type Sink interface {
	Send(ctx context.Context, m Message) error
}

type Dispatcher struct {
	sink    Sink
	queue   chan Message
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{sink: sink, queue: make(chan Message, size), timeout: DefaultEnqueueTimeout}
}

// Start runs the delivery worker until ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case m, ok := <-d.queue:
				if !ok {
					return
				}
				d.deliver(ctx, m)
			case <-ctx.Done():
				logger.Log.Info("notification dispatcher shutting down", "component", "notify", "pending", len(d.queue))
				return
			}
		}
	}()
}

// Close stops accepting messages, delivers what is queued, and waits for the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// DeliverCredential queues the one-time credential for u. The verification that
// produced it is already committed, so a caller hanging up does not abandon it;
// only the enqueue timeout does.
func (d *Dispatcher) DeliverCredential(ctx context.Context, u domain.User, credential string) error {
	return d.enqueue(context.WithoutCancel(ctx), Message{Kind: KindCredential, Recipient: u, Credential: credential})
}

// NotifyEscalation tells the holders of authority that u is waiting on them.
func (d *Dispatcher) NotifyEscalation(ctx context.Context, u domain.User, authority domain.Role) error {
	return d.enqueue(ctx, Message{Kind: KindEscalation, Recipient: u, Authority: authority})
}

// enqueue waits up to the enqueue timeout for room when the queue is full.
func (d *Dispatcher) enqueue(ctx context.Context, m Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- m:
		return nil
	default:
	}

	logger.Log.Warn("notification queue full, waiting", "component", "notify", "message", m, "timeout", d.timeout)
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case d.queue <- m:
		return nil
	case <-ctx.Done():
		logger.Log.Error("notification dropped", "component", "notify", "message", m, "error", ctx.Err())
		return ctx.Err()
	case <-timer.C:
		logger.Log.Error("notification dropped", "component", "notify", "message", m, "error", ErrQueueFull)
		return ErrQueueFull
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	if err := d.sink.Send(context.WithoutCancel(ctx), m); err != nil {
		logger.Log.Error("notification delivery failed", "component", "notify", "message", m, "error", err)
	}
}

// LogSink records deliveries in the log. It stands in for a real transport.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, m Message) error {
	logger.Log.Info("notification delivered", "component", "notify", "message", m, "email", m.Recipient.Email)
	return nil
}
