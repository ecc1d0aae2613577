package nexthop

import "github.com/route-beacon/xorp-routecore/internal/prefix"

// requestKey identifies one (net, requester) registration, the unit
// coalesced into a pending register entry and the unit removed by a
// matching deregister.
type requestKey[R comparable] struct {
	net       prefix.Prefix
	requester R
}

// registerEntry is RibRegisterQueueEntry: a next hop with one or more
// coalesced requesters waiting on the same in-flight (or queued) RIB
// query. prior, when non-nil, is the stale answer this entry is
// re-validating — installed when the RIB invalidated a previous entry
// for this next hop — so lookups during the re-query can still answer
// from it (spec.md §3's "a register entry may carry prior state").
type registerEntry[R comparable] struct {
	nexthop    prefix.Addr
	requesters map[requestKey[R]]struct{}
	prior      *Entry
	// reregisterRefs is the reference count carried over by
	// RibClientRouteInfoInvalid when it re-queues a register for a next
	// hop that an invalidated cache entry used to cover. The original
	// (net, requester) identities that built up that count are not
	// retained across invalidation — next_hop_resolver.hh's
	// RibRegisterQueueEntry reregister constructor only ever carries a
	// plain ref_cnt, not the specific requests that produced it — so
	// reregistration validity is judged on this count rather than on
	// requesters.
	reregisterRefs int
}

func newRegisterEntry[R comparable](nexthop prefix.Addr, prior *Entry) *registerEntry[R] {
	return &registerEntry[R]{
		nexthop:    nexthop,
		requesters: make(map[requestKey[R]]struct{}),
		prior:      prior,
	}
}

// deregisterEntry is RibDeregisterQueueEntry: a pure notification to the
// RIB that nothing references baseAddr/prefixLen any more.
type deregisterEntry struct {
	baseAddr  prefix.Addr
	prefixLen int
}

// queueEntry is the tagged union NextHopRibRequest's FIFO holds: exactly
// one of register or deregister is set.
type queueEntry[R comparable] struct {
	register   *registerEntry[R]
	deregister *deregisterEntry
}

// ribRequestQueue is NextHopRibRequest: a FIFO with at most one
// outstanding RPC. pending indexes register entries by next-hop address
// so register_nexthop/deregister_nexthop can coalesce or cancel without
// scanning the queue.
type ribRequestQueue[R comparable] struct {
	entries  []queueEntry[R]
	inFlight bool
	// retrying is set while the head of the queue is a transient-failure
	// retry waiting out its backoff timer, so a newly queued entry cannot
	// jump ahead and get dispatched before the timer fires.
	retrying bool
	pending  map[prefix.Addr]*registerEntry[R]
}

func newRibRequestQueue[R comparable]() *ribRequestQueue[R] {
	return &ribRequestQueue[R]{pending: make(map[prefix.Addr]*registerEntry[R])}
}

func (q *ribRequestQueue[R]) pushRegister(e *registerEntry[R]) {
	q.entries = append(q.entries, queueEntry[R]{register: e})
	q.pending[e.nexthop] = e
}

func (q *ribRequestQueue[R]) pushDeregister(d *deregisterEntry) {
	q.entries = append(q.entries, queueEntry[R]{deregister: d})
}

// cancelRegister removes e from the queue if it has not yet been sent to
// the RIB. Returns false if e is not in the queue: an entry already popped
// for dispatch is in flight, and its reply must still be processed.
func (q *ribRequestQueue[R]) cancelRegister(e *registerEntry[R]) bool {
	for i, qe := range q.entries {
		if qe.register != e {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		delete(q.pending, e.nexthop)
		return true
	}
	return false
}

func (q *ribRequestQueue[R]) empty() bool { return len(q.entries) == 0 }

// readyToDispatch reports whether pump may pop the head now: the queue
// must be non-empty, nothing already in flight, and not waiting out a
// retry backoff.
func (q *ribRequestQueue[R]) readyToDispatch() bool {
	return len(q.entries) > 0 && !q.inFlight && !q.retrying
}

// popFront removes and returns the head of the queue, marking it
// in-flight. Callers must call the corresponding complete* before
// popping again.
func (q *ribRequestQueue[R]) popFront() queueEntry[R] {
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.inFlight = true
	return e
}

// completeRegister finishes the in-flight register at the head, removing
// it from the pending index (it is no longer cancelable or coalescible —
// the answer, good or bad, is already decided).
func (q *ribRequestQueue[R]) completeRegister(e *registerEntry[R]) {
	q.inFlight = false
	delete(q.pending, e.nexthop)
}

func (q *ribRequestQueue[R]) completeDeregister() {
	q.inFlight = false
}

// requeueFront puts qe back at the head of the queue without touching
// the pending index, for a transient-failure retry. The queue is marked
// retrying until releaseRetry is called, so pump does not redispatch it
// before the backoff timer fires.
func (q *ribRequestQueue[R]) requeueFront(qe queueEntry[R]) {
	q.inFlight = false
	q.retrying = true
	q.entries = append([]queueEntry[R]{qe}, q.entries...)
}

func (q *ribRequestQueue[R]) releaseRetry() {
	q.retrying = false
}
