package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request coalescing.
var (
	coalescerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_coalescer_requests_total",
		Help: "Requests submitted to the fetch coalescer by mode",
	}, []string{"mode"})

	coalescerExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_coalescer_executions_total",
		Help: "Executions released by the fetch coalescer by mode",
	}, []string{"mode"})

	coalescerSupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_coalescer_superseded_total",
		Help: "Requests whose arguments were replaced by a newer request inside the quiescence window",
	})
)

// Func is the operation a coalescer throttles.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Options configures a Coalescer.
type Options struct {
	// Window is the quiescence window (coalesce) or minimum spacing between starts (queue).
	Window time.Duration

	// Mode selects coalescing or queuing behaviour.
	Mode Mode
}

// DefaultOptions returns the options matching the historic debounce behaviour.
func DefaultOptions() Options {
	return Options{
		Window: DefaultWindow,
		Mode:   ModeCoalesce,
	}
}

// call is one pending slot. Every request that joins it settles with its outcome.
type call[In, Out any] struct {
	args    In
	seq     uint64
	timer   *time.Timer
	waiters int
	done    chan struct{}
	out     Out
	err     error
}

// Coalescer throttles calls to fn according to Options.
type Coalescer[In, Out any] struct {
	fn      Func[In, Out]
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger

	// base scopes executions; it is cancelled by Close.
	base   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    *call[In, Out]
	seq        uint64
	queued     int
	inFlight   int
	executed   uint64
	superseded uint64
	closed     bool
}

// NewCoalescer creates a coalescer around fn.
func NewCoalescer[In, Out any](fn Func[In, Out], opts Options, logger zerolog.Logger) (*Coalescer[In, Out], error) {
	if fn == nil {
		return nil, fmt.Errorf("coalescer func is required")
	}
	if opts.Window < 0 {
		return nil, fmt.Errorf("window must be >= 0 (got %s)", opts.Window)
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode

	base, cancel := context.WithCancel(context.Background())

	c := &Coalescer[In, Out]{
		fn:     fn,
		opts:   opts,
		logger: logger,
		base:   base,
		cancel: cancel,
	}
	if mode == ModeQueue {
		c.limiter = rate.NewLimiter(rate.Every(opts.Window), 1)
	}

	return c, nil
}

// Do submits a request and blocks until the execution it ends up attached to settles.
//
// In coalesce mode that execution may carry a later caller's arguments: the result is
// shared by every request that joined the same pending slot. Cancelling ctx abandons
// the wait but not the execution, which other callers may still be waiting on.
func (c *Coalescer[In, Out]) Do(ctx context.Context, in In) (Out, error) {
	coalescerRequestsTotal.WithLabelValues(string(c.opts.Mode)).Inc()

	if c.opts.Mode == ModeQueue {
		return c.doQueued(ctx, in)
	}
	return c.doCoalesced(ctx, in)
}

func (c *Coalescer[In, Out]) doCoalesced(ctx context.Context, in In) (Out, error) {
	var zero Out

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}

	cl := c.pending
	if cl == nil {
		cl = &call[In, Out]{done: make(chan struct{})}
		c.pending = cl
		c.logger.Debug().Dur("window", c.opts.Window).Msg("Coalescer slot opened")
	} else {
		cl.timer.Stop()
		c.superseded++
		coalescerSupersededTotal.Inc()
		c.logger.Debug().
			Int("waiters", cl.waiters+1).
			Msg("Pending request superseded, quiescence timer reset")
	}

	c.seq++
	seq := c.seq
	cl.seq = seq
	cl.args = in
	cl.waiters++
	cl.timer = time.AfterFunc(c.opts.Window, func() { c.fire(cl, seq) })
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.out, cl.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// fire releases the pending slot if seq still identifies its latest request.
// A timer that lost the race against a reset finds a newer seq and does nothing.
func (c *Coalescer[In, Out]) fire(cl *call[In, Out], seq uint64) {
	c.mu.Lock()
	if c.pending != cl || cl.seq != seq || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.inFlight++
	args := cl.args
	waiters := cl.waiters
	c.mu.Unlock()

	coalescerExecutionsTotal.WithLabelValues(string(ModeCoalesce)).Inc()
	c.logger.Debug().Int("waiters", waiters).Msg("Coalescer slot released")

	cl.out, cl.err = c.fn(c.base, args)
	close(cl.done)

	c.mu.Lock()
	c.inFlight--
	c.executed++
	c.mu.Unlock()
}

func (c *Coalescer[In, Out]) doQueued(ctx context.Context, in In) (Out, error) {
	var zero Out

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	c.queued++
	c.mu.Unlock()

	waitErr := c.limiter.Wait(ctx)

	c.mu.Lock()
	c.queued--
	if waitErr == nil && c.closed {
		waitErr = ErrClosed
	}
	if waitErr != nil {
		c.mu.Unlock()
		return zero, waitErr
	}
	c.inFlight++
	c.mu.Unlock()

	coalescerExecutionsTotal.WithLabelValues(string(ModeQueue)).Inc()

	// Queue mode runs on behalf of exactly one caller, so its context applies.
	out, err := c.fn(ctx, in)

	c.mu.Lock()
	c.inFlight--
	c.executed++
	c.mu.Unlock()

	return out, err
}

// State returns the current lifecycle state.
func (c *Coalescer[In, Out]) State() State {
	return c.Snapshot().State
}

// Snapshot returns counters and the derived state.
func (c *Coalescer[In, Out]) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Waiting:    c.queued,
		InFlight:   c.inFlight,
		Executed:   c.executed,
		Superseded: c.superseded,
	}
	if c.pending != nil {
		s.Waiting += c.pending.waiters
	}
	s.State = s.derive()
	return s
}

// Close rejects new requests, fails the pending slot with ErrClosed and cancels
// in-flight executions.
func (c *Coalescer[In, Out]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cl := c.pending
	c.pending = nil
	c.mu.Unlock()

	if cl != nil {
		cl.timer.Stop()
		cl.err = ErrClosed
		close(cl.done)
	}
	c.cancel()

	return nil
}
