// Package dispatcher implements the bounded request/response worker pool
// that fronts every other component (spec §4.H, component H): it validates
// size, verifies signatures, re-broadcasts inbound gossip, and routes by
// type code to the spectrum/universe/computer/tickstore/quorum entry
// points. Grounded on the teacher's core/network.go Node plus
// golang.org/x/sync's errgroup/semaphore for the worker pool (§5's "0..N
// remaining processors run the dispatcher's request workers").
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"validator-node/internal/wire"
)

var (
	ErrQueueFull      = errors.New("dispatcher: request queue full")
	ErrUnknownType    = errors.New("dispatcher: no handler registered for type")
	ErrFrameTooSmall  = errors.New("dispatcher: frame smaller than type's minimum size")
)

// Request is one parsed, not-yet-dispatched inbound frame (the
// "worker-local buffer" copy spec §4.H describes).
type Request struct {
	Type   byte
	Dejavu uint32
	Body   []byte
}

// Response is one outbound frame produced by a handler.
type Response struct {
	Type byte
	Body []byte
}

// Handler is one type code's entry point. It returns the response bodies
// to enqueue (empty for a broadcast with no reply), whether the inbound
// message should be re-broadcast, and an error that aborts processing
// without enqueuing anything (the handler itself decides silent-drop vs.
// error by returning (nil, false, nil) for drops).
type Handler func(ctx context.Context, req Request) (responses []Response, rebroadcast bool, err error)

// Broadcaster re-publishes a verified gossip message to the rest of the
// committee (wired to the transport package's pubsub topics).
type Broadcaster func(typ byte, body []byte) error

// Dispatcher is the bounded worker pool described by §4.H / §5.
type Dispatcher struct {
	handlers    map[byte]Handler
	queue       chan Request
	sem         *semaphore.Weighted
	broadcaster Broadcaster
	responses   chan Response
	log         *logrus.Logger
}

// Config tunes queue depth and worker concurrency.
type Config struct {
	QueueDepth     int // bounded request queue capacity
	ResponseDepth  int // bounded response queue capacity
	MaxConcurrency int64 // worker slots (§5: "0..N remaining processors")
}

// New creates a Dispatcher with no handlers registered; call Register for
// each of the type codes in spec §6.1 before calling Run.
func New(cfg Config, broadcaster Broadcaster, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Dispatcher{
		handlers:    make(map[byte]Handler),
		queue:       make(chan Request, cfg.QueueDepth),
		responses:   make(chan Response, cfg.ResponseDepth),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		broadcaster: broadcaster,
		log:         log,
	}
}

// Register installs the handler for a type code, overwriting any prior
// registration for the same type.
func (d *Dispatcher) Register(typ byte, h Handler) {
	d.handlers[typ] = h
}

// Submit enqueues a request for processing. It never blocks: a full queue
// returns ErrQueueFull and the caller drops the connection's backlog,
// matching §4.H's bounded-queue discipline (no unbounded buffering).
func (d *Dispatcher) Submit(req Request) error {
	select {
	case d.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth reports the request queue's current length and capacity, for
// internal/metrics to poll into a gauge.
func (d *Dispatcher) QueueDepth() (length, capacity int) {
	return len(d.queue), cap(d.queue)
}

// Responses returns the channel workers publish outbound frames to. The
// transport layer drains it and writes frames to the originating
// connection (or, for a rebroadcast, to the gossip topic).
func (d *Dispatcher) Responses() <-chan Response {
	return d.responses
}

// Run drains the request queue with up to cfg.MaxConcurrency concurrent
// workers until ctx is cancelled. It returns the first worker error, if
// any survived ctx cancellation (handler errors are logged, not returned,
// since one bad request must not take down the pool).
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case req, ok := <-d.queue:
			if !ok {
				return g.Wait()
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return g.Wait()
			}
			g.Go(func() error {
				defer d.sem.Release(1)
				d.process(ctx, req)
				return nil
			})
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, req Request) {
	h, ok := d.handlers[req.Type]
	if !ok {
		d.log.WithField("type", req.Type).Warn("dispatcher: dropping request with no registered handler")
		return
	}
	responses, rebroadcast, err := h(ctx, req)
	if err != nil {
		d.log.WithError(err).WithField("type", req.Type).Warn("dispatcher: handler error")
		return
	}
	if rebroadcast && !wire.IsSelfOriginated(req.Dejavu) && d.broadcaster != nil {
		if err := d.broadcaster(req.Type, req.Body); err != nil {
			d.log.WithError(err).WithField("type", req.Type).Warn("dispatcher: rebroadcast failed")
		}
	}
	for _, resp := range responses {
		d.enqueueResponse(resp)
	}
	if len(responses) > 0 {
		d.enqueueResponse(Response{Type: wire.TypeEndResponse})
	}
}

func (d *Dispatcher) enqueueResponse(resp Response) {
	select {
	case d.responses <- resp:
	default:
		d.log.WithField("type", resp.Type).Warn("dispatcher: response queue full, dropping")
	}
}

// requireSize returns ErrFrameTooSmall unless body is at least min bytes,
// the "validate size against the type's expected length bounds" step that
// the handlers in handlers.go with a fixed minimum body length perform
// first (§4.H).
func requireSize(body []byte, min int) error {
	if len(body) < min {
		return fmt.Errorf("%w: got %d, want >= %d", ErrFrameTooSmall, len(body), min)
	}
	return nil
}
