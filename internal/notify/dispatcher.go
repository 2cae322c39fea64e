// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authd/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultQueueSize   = 100
	DefaultWorkers     = 2
	DefaultMaxRetries  = 3
	DefaultBackoff     = time.Second
	DefaultSendTimeout = 30 * time.Second
)

// Errors returned by Dispatcher.Notify.
var (
	ErrQueueFull = oops.Code("NOTIFY_QUEUE_FULL").Errorf("notification queue is full")
	ErrClosed    = oops.Code("NOTIFY_CLOSED").Errorf("notification dispatcher is closed")
)

// Delivery outcomes reported to the Recorder.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Recorder receives delivery outcomes, typically for metrics.
type Recorder interface {
	RecordNotification(kind, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordNotification(string, string) {}

// DispatcherConfig controls queueing and retry behavior.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	MaxRetries  uint64
	Backoff     time.Duration
	SendTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// Dispatcher queues messages and delivers them on background workers,
// retrying transient failures with exponential backoff. Notify never blocks.
type Dispatcher struct {
	sender   Sender
	cfg      DispatcherConfig
	logger   *slog.Logger
	recorder Recorder

	queue  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	mu        sync.RWMutex
	started   bool
	closed    bool
}

// NewDispatcher creates a Dispatcher. Call Start to launch the workers.
func NewDispatcher(sender Sender, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if sender == nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("sender is required")
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:   sender,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: noopRecorder{},
		queue:    make(chan Message, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start launches the worker goroutines. Subsequent calls, and calls after
// Close, are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return
		}
		d.started = true
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
		d.logger.Info("notification dispatcher started",
			"workers", d.cfg.Workers,
			"queue_size", d.cfg.QueueSize)
	})
}

// Notify enqueues msg for delivery. It returns ErrQueueFull when the queue
// is at capacity and ErrClosed after Close.
func (d *Dispatcher) Notify(_ context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.recorder.RecordNotification(string(msg.Kind), OutcomeDropped)
		return ErrQueueFull
	}
}

// Pending returns the number of queued, undelivered messages.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx expires first, in-flight deliveries are cancelled. When Start was
// never called, queued messages are recorded as dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.dropPending()
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return oops.Code("NOTIFY_CLOSE_TIMEOUT").
			With("pending", len(d.queue)).
			Wrap(ctx.Err())
	}
}

// dropPending discards messages that no worker will ever read.
func (d *Dispatcher) dropPending() {
	for msg := range d.queue {
		d.recorder.RecordNotification(string(msg.Kind), OutcomeDropped)
		d.logger.Warn("notification dropped, dispatcher closed before start", "kind", msg.Kind)
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.Backoff))

	attempts := 0
	err := retry.Do(d.ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		sendErr := d.sender.Send(sendCtx, msg)
		if sendErr == nil || IsPermanent(sendErr) {
			return sendErr
		}
		d.logger.Debug("notification delivery attempt failed",
			"kind", msg.Kind,
			"attempt", attempts,
			"error", sendErr)
		return retry.RetryableError(sendErr)
	})
	if err != nil {
		d.recorder.RecordNotification(string(msg.Kind), OutcomeFailed)
		errutil.LogError(d.ctx, d.logger, "notification delivery failed", oops.
			Code("NOTIFY_DELIVERY_FAILED").
			With("kind", string(msg.Kind)).
			With("attempts", attempts).
			Wrap(err))
		return
	}

	d.recorder.RecordNotification(string(msg.Kind), OutcomeSent)
	d.logger.Info("notification delivered", "kind", msg.Kind, "attempts", attempts)
}
