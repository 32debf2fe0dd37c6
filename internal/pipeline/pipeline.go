// Package pipeline implements the Request Pipeline (spec.md §4.8): bounded
// batching with in-order response delivery, grounded on the single-owner
// goroutine+ticker+done-channel shape of the teacher's
// pkg/dimse.ConnectionPool, adapted from "pool of idle connections" to
// "batch of in-flight requests".
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config mirrors spec.md §6's Pipeline configuration block.
type Config struct {
	MaxPipelineDepth int
	EnablePipelining bool
	StrictOrdering   bool
	FlushTimeout     time.Duration
}

// Metrics exposes the counters spec.md §4.8 names. All fields are updated
// atomically and safe to read concurrently.
type Metrics struct {
	Pipelined   int64
	Individual  int64
	Flushes     int64
	TotalDepth  int64
	Errors      int64
	OutOfOrder  int64
}

// ErrCancelled is returned to every waiter still pending or in flight when
// the pipeline is stopped (spec.md §4.8 "Cancellation").
var ErrCancelled = cancelledError{}

type cancelledError struct{}

func (cancelledError) Error() string { return "pipeline: stopped" }

// Execute is the work a Pipeline performs for one request.
type Execute[Req, Resp any] func(context.Context, Req) (Resp, error)

type result[Resp any] struct {
	resp Resp
	err  error
}

type item[Req, Resp any] struct {
	ctx      context.Context
	req      Req
	resultCh chan result[Resp]
}

// Pipeline batches Req values through an Execute function, delivering
// results back to each caller either inline ("individual", when disabled)
// or in pipelined batches governed by MaxPipelineDepth and FlushTimeout.
type Pipeline[Req, Resp any] struct {
	cfg     Config
	execute Execute[Req, Resp]

	enqueueCh chan *item[Req, Resp]
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	closed bool

	metrics Metrics
}

// New constructs a Pipeline and, if cfg.EnablePipelining, starts its
// single-owner batching goroutine.
func New[Req, Resp any](cfg Config, execute Execute[Req, Resp]) *Pipeline[Req, Resp] {
	if cfg.MaxPipelineDepth < 1 {
		cfg.MaxPipelineDepth = 1
	}
	if cfg.FlushTimeout < time.Millisecond {
		cfg.FlushTimeout = time.Millisecond
	}
	p := &Pipeline[Req, Resp]{
		cfg:       cfg,
		execute:   execute,
		enqueueCh: make(chan *item[Req, Resp]),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if cfg.EnablePipelining {
		go p.run()
	} else {
		close(p.done)
	}
	return p
}

// Enqueue submits req and blocks until its result is available, the
// pipeline is stopped, or ctx is cancelled.
func (p *Pipeline[Req, Resp]) Enqueue(ctx context.Context, req Req) (Resp, error) {
	if !p.cfg.EnablePipelining {
		atomic.AddInt64(&p.metrics.Individual, 1)
		resp, err := p.execute(ctx, req)
		if err != nil {
			atomic.AddInt64(&p.metrics.Errors, 1)
		}
		return resp, err
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		var zero Resp
		return zero, ErrCancelled
	}

	it := &item[Req, Resp]{ctx: ctx, req: req, resultCh: make(chan result[Resp], 1)}
	select {
	case p.enqueueCh <- it:
	case <-p.stopCh:
		var zero Resp
		return zero, ErrCancelled
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}

	select {
	case r := <-it.resultCh:
		return r.resp, r.err
	case <-p.stopCh:
		var zero Resp
		return zero, ErrCancelled
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
}

// Stop cancels all pending and in-flight waiters and forbids new enqueues.
// Storage mutations that have already committed are unaffected — the
// executor owns its own commit boundary.
func (p *Pipeline[Req, Resp]) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stopCh)
	})
	<-p.done
}

// Snapshot returns a copy of the current metrics.
func (p *Pipeline[Req, Resp]) Snapshot() Metrics {
	return Metrics{
		Pipelined:  atomic.LoadInt64(&p.metrics.Pipelined),
		Individual: atomic.LoadInt64(&p.metrics.Individual),
		Flushes:    atomic.LoadInt64(&p.metrics.Flushes),
		TotalDepth: atomic.LoadInt64(&p.metrics.TotalDepth),
		Errors:     atomic.LoadInt64(&p.metrics.Errors),
		OutOfOrder: atomic.LoadInt64(&p.metrics.OutOfOrder),
	}
}

// run is the single owner of the batch queue. It never holds a lock across
// the suspension points of execute (spec.md §5) — the only shared state it
// touches is the atomic Metrics counters and p.mu, which it never takes.
func (p *Pipeline[Req, Resp]) run() {
	defer close(p.done)

	var batch []*item[Req, Resp]
	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(p.cfg.FlushTimeout)
		timerC = timer.C
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerC = nil
	}

	for {
		select {
		case it, ok := <-p.enqueueCh:
			if !ok {
				p.cancelAll(batch)
				return
			}
			batch = append(batch, it)
			atomic.AddInt64(&p.metrics.Pipelined, 1)
			atomic.AddInt64(&p.metrics.TotalDepth, int64(len(batch)))
			if len(batch) == 1 {
				resetTimer()
			}
			if len(batch) >= p.cfg.MaxPipelineDepth {
				stopTimer()
				p.flush(batch)
				batch = nil
			}

		case <-timerC:
			stopTimer()
			if len(batch) > 0 {
				p.flush(batch)
				batch = nil
			}

		case <-p.stopCh:
			stopTimer()
			p.cancelAll(batch)
			p.drainAndCancel()
			return
		}
	}
}

// flush dispatches a batch concurrently and resolves its waiters either in
// strict enqueue order or as each result completes (spec.md §4.8).
func (p *Pipeline[Req, Resp]) flush(batch []*item[Req, Resp]) {
	atomic.AddInt64(&p.metrics.Flushes, 1)

	if p.cfg.StrictOrdering {
		results := make([]result[Resp], len(batch))
		var wg sync.WaitGroup
		wg.Add(len(batch))
		for i, it := range batch {
			go func(i int, it *item[Req, Resp]) {
				defer wg.Done()
				resp, err := p.execute(it.ctx, it.req)
				if err != nil {
					atomic.AddInt64(&p.metrics.Errors, 1)
				}
				results[i] = result[Resp]{resp: resp, err: err}
			}(i, it)
		}
		wg.Wait()
		for i, it := range batch {
			it.resultCh <- results[i]
		}
		return
	}

	var lastCompleted int64 = -1
	for i, it := range batch {
		go func(i int, it *item[Req, Resp]) {
			resp, err := p.execute(it.ctx, it.req)
			if err != nil {
				atomic.AddInt64(&p.metrics.Errors, 1)
			}
			prev := atomic.SwapInt64(&lastCompleted, int64(i))
			if int64(i) < prev {
				atomic.AddInt64(&p.metrics.OutOfOrder, 1)
			}
			it.resultCh <- result[Resp]{resp: resp, err: err}
		}(i, it)
	}
}

func (p *Pipeline[Req, Resp]) cancelAll(batch []*item[Req, Resp]) {
	for _, it := range batch {
		it.resultCh <- result[Resp]{err: ErrCancelled}
	}
}

// drainAndCancel answers any enqueue attempts racing with shutdown so they
// never block forever on a full rendezvous send to enqueueCh.
func (p *Pipeline[Req, Resp]) drainAndCancel() {
	for {
		select {
		case it := <-p.enqueueCh:
			it.resultCh <- result[Resp]{err: ErrCancelled}
		default:
			return
		}
	}
}
