// Package commando implements the Commando JSON-RPC request/response
// multiplexer (C7): a registry of in-flight calls keyed by request id, an
// exponential reconnect/backoff policy, and the client that ties them to a
// lnconn.Socket's background reader.
package commando

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lnbc1/lnsocket-go/internal/lnerr"
)

// pendingCall is a single-use completion slot for one in-flight call,
// holding accumulated response fragments until a terminal fragment or an
// error arrives. Grounded on stream.Manager's PendingRequest: a timer, a
// result channel, and a creation timestamp, keyed by request id.
type pendingCall struct {
	result    chan callResult
	timer     *time.Timer
	buf       []byte
	createdAt time.Time
}

// callResult is delivered exactly once to a pendingCall's result channel.
type callResult struct {
	payload []byte
	err     error
}

// registry maps Commando request ids to pending calls. The background
// reader is the only writer into an entry's buf. An entry is deleted by
// completeTerminal, completeWithError (the timeout path), failAll, or
// cancel; all but cancel also deliver a result.
type registry struct {
	mu      sync.Mutex
	pending map[uint64]*pendingCall
	nextID  atomic.Uint64
}

func newRegistry() *registry {
	return &registry{pending: make(map[uint64]*pendingCall)}
}

// nextRequestID returns the next monotonic request id for this session.
func (r *registry) nextRequestID() uint64 {
	return r.nextID.Add(1)
}

// register creates a completion slot for id, arming a timeout timer that
// delivers lnerr.ErrTimeout if the call is not completed first.
func (r *registry) register(id uint64, timeout time.Duration) <-chan callResult {
	ch := make(chan callResult, 1)
	r.mu.Lock()
	r.pending[id] = &pendingCall{
		result:    ch,
		createdAt: time.Now(),
		timer: time.AfterFunc(timeout, func() {
			r.completeWithError(id, lnerr.ErrTimeout)
		}),
	}
	r.mu.Unlock()
	return ch
}

// appendFragment appends payload bytes to id's accumulated buffer. If no
// slot is registered for id (already completed, timed out, or cancelled)
// the fragment is silently dropped, per spec.md §4.7.
func (r *registry) appendFragment(id uint64, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return
	}
	p.buf = append(p.buf, payload...)
}

// completeTerminal appends the terminal fragment, removes the slot, and
// delivers the full accumulated payload.
func (r *registry) completeTerminal(id uint64, payload []byte) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	full := append(p.buf, payload...)
	p.result <- callResult{payload: full}
}

// completeWithError removes id's slot, if any, and delivers err.
func (r *registry) completeWithError(id uint64, err error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	p.result <- callResult{err: err}
}

// cancel removes id's slot without delivering anything further (used when
// the caller has already given up, e.g. on context cancellation).
func (r *registry) cancel(id uint64) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		p.timer.Stop()
	}
}

// failAll wakes every pending call with err and clears the registry. Used
// when the transport is lost or the client is closed.
func (r *registry) failAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]*pendingCall)
	r.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.result <- callResult{err: err}
	}
}
