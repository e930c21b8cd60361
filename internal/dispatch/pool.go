// Package dispatch implements pg-cdc's backpressure-bounded event queue and
// worker pool: the component that sits between the replication session and
// the application's own Handler, absorbing bursts up to a fixed capacity and
// applying backpressure (a blocking enqueue) once that capacity is reached.
package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cashapp/pg-cdc/internal/metrics"
	"github.com/cashapp/pg-cdc/internal/pgoutput"
)

// Handler processes one decoded change event. A Handler must be safe for
// concurrent use: the pool invokes it from every worker goroutine.
type Handler interface {
	Handle(ctx context.Context, event *pgoutput.ChangeEvent) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event *pgoutput.ChangeEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event *pgoutput.ChangeEvent) error {
	return f(ctx, event)
}

// Pool is a fixed-capacity event queue drained by a fixed number of worker
// goroutines. Enqueue blocks once the queue is full; this blocking is the
// entire backpressure mechanism: there is no overflow policy, no drop,
// no unbounded growth.
//
// A handler error is caught, logged and counted; it never terminates a
// worker and never affects any other in-flight event.
type Pool struct {
	queue   chan *pgoutput.ChangeEvent
	workers int
	handler Handler
	logger  logrus.FieldLogger
	metrics metrics.Sink

	group    *errgroup.Group
	groupCtx context.Context
	depthMu  sync.Mutex
}

// New creates a Pool with the given queue capacity and worker count. handler
// must not be nil. If logger is nil, the standard logrus logger is used; if
// sink is nil, metrics are discarded (NoopSink).
func New(capacity, workers int, handler Handler, logger logrus.FieldLogger, sink metrics.Sink) *Pool {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:   make(chan *pgoutput.ChangeEvent, capacity),
		workers: workers,
		handler: handler,
		logger:  logger,
		metrics: sink,
	}
}

// Start launches the worker goroutines. It returns immediately; call Wait to
// block until they exit (after Close has drained the queue, or ctx is
// cancelled).
func (p *Pool) Start(ctx context.Context) {
	p.group, p.groupCtx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := i
		p.group.Go(func() error {
			p.runWorker(workerID)
			return nil
		})
	}
}

// Enqueue adds event to the queue, blocking if the queue is at capacity
// until a worker drains an entry or ctx is cancelled.
func (p *Pool) Enqueue(ctx context.Context, event *pgoutput.ChangeEvent) error {
	select {
	case p.queue <- event:
		p.metrics.QueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and signals workers to exit once the queue
// has drained. Callers must not call Enqueue after Close.
func (p *Pool) Close() {
	close(p.queue)
}

// Wait blocks until all workers have exited. It must be called after Start.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) runWorker(id int) {
	log := p.logger.WithField("worker", id)
	for {
		select {
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			p.metrics.QueueDepth(len(p.queue))
			p.dispatch(log, event)
		case <-p.groupCtx.Done():
			return
		}
	}
}

// dispatch invokes the handler for a single event, isolating any error or
// panic so it cannot take down the worker or any other in-flight event.
func (p *Pool) dispatch(log logrus.FieldLogger, event *pgoutput.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.HandlerError()
			log.WithField("panic", r).WithField("table", event.Table).
				Error("recovered from handler panic")
		}
	}()

	if err := p.handler.Handle(p.groupCtx, event); err != nil {
		p.metrics.HandlerError()
		log.WithError(err).WithField("table", event.Table).
			WithField("operation", string(event.Operation)).
			Error("handler returned error, event dropped")
		return
	}
	p.metrics.EventDispatched()
}
