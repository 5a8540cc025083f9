package protocol

import (
	"log/slog"
	"runtime"
	"sync"
)

const defaultDispatchBuffer = 256

// Dispatcher decouples slow subscription handlers from a connection's read
// loop. Receive loops push decoded envelopes onto a buffered channel; a
// single worker goroutine drains it and invokes the registered handler.
// Handler panics are recovered and logged so a bad handler can never tear
// down the connection it is fed from.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]MessageHandler

	queue chan dispatchItem
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

type dispatchItem struct {
	subID string
	env   Envelope
}

// NewDispatcher creates a dispatcher and starts its worker
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:   logger,
		handlers: make(map[string]MessageHandler),
		queue:    make(chan dispatchItem, defaultDispatchBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Register binds a handler to a subscription ID
func (d *Dispatcher) Register(subID string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[subID] = handler
}

// Unregister removes a subscription's handler; queued messages for it are dropped
func (d *Dispatcher) Unregister(subID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, subID)
}

// Deliver queues an envelope for the subscription's handler. Delivery is
// fire-and-forget: when the queue is full the message is dropped and counted,
// matching the no-backpressure contract of the adapter surface.
func (d *Dispatcher) Deliver(subID string, env Envelope) {
	select {
	case d.queue <- dispatchItem{subID: subID, env: env}:
	case <-d.stop:
	default:
		d.logger.Warn("dispatch queue full, dropping message",
			"subscription", subID, "channel", env.Channel)
	}
}

// Close stops the worker after draining in-flight messages
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case item := <-d.queue:
			d.invoke(item)
		case <-d.stop:
			// Drain whatever is already queued
			for {
				select {
				case item := <-d.queue:
					d.invoke(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) invoke(item dispatchItem) {
	d.mu.RLock()
	handler, ok := d.handlers[item.subID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			d.logger.Error("message handler panicked",
				"subscription", item.subID,
				"channel", item.env.Channel,
				"panic", r,
				"stack", string(buf[:n]))
		}
	}()
	handler(item.env)
}
