package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chenhao-ye/hopperkv/internal/resrcost"
	"github.com/chenhao-ye/hopperkv/ratelimit"
)

// GetResult is the outcome of an async Get request. RCU is the read cost
// charged on completion once the value's size is known: the full RCU cost
// minus the 1 RCU the dispatcher prepaid.
type GetResult struct {
	Val string
	Err error
	RCU uint64
}

type getRequest struct {
	ctx      context.Context
	key      string
	resultCh chan<- GetResult
}

type setRequest struct {
	ctx      context.Context
	key, val string
	resultCh chan<- error
}

// Worker serializes requests against a Backend through a single dispatch
// goroutine, gated by independent RCU and WCU rate limiters: a single
// storage-thread poll loop where the dispatcher only decides *when* to
// launch a request; the request itself (and its backend I/O) runs in its
// own goroutine so a slow backend call never blocks the dispatcher from
// respecting the rate limiters.
type Worker struct {
	mu       sync.RWMutex
	backend  Backend
	rcu      *ratelimit.Limiter
	wcu      *ratelimit.Limiter
	pollFreq time.Duration

	getCh chan getRequest
	setCh chan setRequest
	done  chan struct{}
}

// NewWorker constructs a Worker. rcuRate/wcuRate are the initial per-second
// budgets; pollFreq bounds how long the dispatcher sleeps when both queues
// are empty or rate-limited.
func NewWorker(backend Backend, rcuRate, wcuRate float64, pollFreq time.Duration) *Worker {
	return &Worker{
		backend:  backend,
		rcu:      ratelimit.NewConcurrent(rcuRate),
		wcu:      ratelimit.NewConcurrent(wcuRate),
		pollFreq: pollFreq,
		getCh:    make(chan getRequest, 1024),
		setCh:    make(chan setRequest, 1024),
		done:     make(chan struct{}),
	}
}

// SetRCULimit updates the read-capacity budget the dispatcher enforces.
func (w *Worker) SetRCULimit(rcu float64) { w.rcu.ProposeNewRate(rcu) }

// SetWCULimit updates the write-capacity budget the dispatcher enforces.
func (w *Worker) SetWCULimit(wcu float64) { w.wcu.ProposeNewRate(wcu) }

// SetBackend swaps the backend in-flight requests dispatch against. Only
// safe to call when no request submitted before the swap is still
// outstanding, mirroring the original's "only safe to set if there is no
// inflight requests" caveat on `dynamo.mock`.
func (w *Worker) SetBackend(backend Backend) {
	w.mu.Lock()
	w.backend = backend
	w.mu.Unlock()
}

func (w *Worker) currentBackend() Backend {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend
}

// Run drives the dispatch loop until ctx is cancelled. Intended to be
// launched as its own goroutine (or under an errgroup).
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rcuWait := w.rcu.CheckWaitTime()
		wcuWait := w.wcu.CheckWaitTime()
		workDone := false

		if rcuWait <= 0 {
			select {
			case req := <-w.getCh:
				w.dispatchGet(req)
				w.rcu.Consume(1) // prepay; true cost reconciled on completion
				workDone = true
			default:
			}
		}
		if wcuWait <= 0 {
			select {
			case req := <-w.setCh:
				cost := resrcost.KVToWCU(len(req.key), len(req.val))
				w.dispatchSet(req)
				w.wcu.Consume(cost)
				workDone = true
			default:
			}
		}

		if !workDone {
			wait := w.pollFreq
			if rcuWait > 0 && wcuWait > 0 {
				wait = minDuration(minDuration(durationOf(rcuWait), durationOf(wcuWait)), w.pollFreq)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

func durationOf(seconds float64) time.Duration { return time.Duration(seconds * float64(time.Second)) }

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (w *Worker) dispatchGet(req getRequest) {
	backend := w.currentBackend()
	go func() {
		val, err := backend.Get(req.ctx, req.key)
		res := GetResult{Val: val, Err: err}
		if err == nil {
			// Actual cost minus the 1 RCU prepaid by the dispatcher.
			res.RCU = resrcost.KVToRCU(len(req.key), len(val))
			if res.RCU > 0 {
				res.RCU--
			}
			w.rcu.Consume(res.RCU)
		}
		log.WithFields(log.Fields{"key": req.key, "err": err}).Trace("storage: get completed")
		req.resultCh <- res
	}()
}

func (w *Worker) dispatchSet(req setRequest) {
	backend := w.currentBackend()
	go func() {
		err := backend.Put(req.ctx, req.key, req.val)
		log.WithFields(log.Fields{"key": req.key, "err": err}).Trace("storage: put completed")
		req.resultCh <- err
	}()
}

// GetAsync enqueues a GET and returns a channel that receives exactly one
// GetResult once the dispatcher has scheduled and the backend has
// completed the request.
func (w *Worker) GetAsync(ctx context.Context, key string) <-chan GetResult {
	ch := make(chan GetResult, 1)
	w.getCh <- getRequest{ctx: ctx, key: key, resultCh: ch}
	return ch
}

// PutAsync enqueues a SET and returns a channel that receives exactly one
// error (nil on success) once the backend has completed the request.
func (w *Worker) PutAsync(ctx context.Context, key, val string) <-chan error {
	ch := make(chan error, 1)
	w.setCh <- setRequest{ctx: ctx, key: key, val: val, resultCh: ch}
	return ch
}
