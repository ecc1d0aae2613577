package nexthop

import (
	"context"
	"fmt"
	"time"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/route-beacon/xorp-routecore/internal/rpcerr"
	"go.uber.org/zap"
)

// RegisterReply is the RIB's answer to register_interest_in_nexthop:
// whether the next hop resolves, the covering range it resolved against,
// the actual matched route's prefix length, and the IGP metric.
type RegisterReply struct {
	Resolves      bool
	BaseAddr      prefix.Addr
	PrefixLen     int
	RealPrefixLen int
	Metric        uint32
}

// RibTransport is NextHopRibTransport (SPEC_FULL.md §6): the RIB's
// next-hop interest protocol. Replies are delivered via the callback,
// which may be invoked from any goroutine — Resolver funnels it back
// onto its own loop goroutine before touching any state.
type RibTransport interface {
	RegisterInterest(ctx context.Context, nexthop prefix.Addr, reply func(RegisterReply, error))
	DeregisterInterest(ctx context.Context, nexthop prefix.Addr, prefixLen int, reply func(error))
}

// DecisionSink is notified when a cached metric changes underneath a
// next hop a decision process has already registered interest in.
type DecisionSink interface {
	NextHopMetricChanged(nexthop prefix.Addr)
}

// Resolver is NextHopResolver<A>: a cache plus a single-in-flight RIB
// request queue, both mutated only from the goroutine running Run. Every
// exported method sends a closure onto that goroutine and blocks for its
// result, so the resolver behaves like a synchronous object to callers
// while honoring the single-event-loop concurrency model of SPEC_FULL.md
// §5 — no lock is taken because no other goroutine ever touches cache or
// queue directly.
type Resolver[R comparable] struct {
	family        prefix.Family
	cache         *cache
	queue         *ribRequestQueue[R]
	transport     RibTransport
	sink          DecisionSink
	logger        *zap.Logger
	retryInterval time.Duration
	failed        bool
	seenSuccess   bool

	calls   chan call
	replies chan replyEvent[R]
	retryCh chan struct{}
}

type call struct {
	fn   func()
	done chan struct{}
}

type replyEvent[R comparable] struct {
	deregister bool
	nexthop    prefix.Addr
	prefixLen  int
	reg        RegisterReply
	err        error
}

// New constructs a Resolver. retryInterval defaults to one second,
// matching the RIB client's retry-after-send-failure rule.
func New[R comparable](family prefix.Family, transport RibTransport, sink DecisionSink, logger *zap.Logger, retryInterval time.Duration) *Resolver[R] {
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	return &Resolver[R]{
		family:        family,
		cache:         newCache(family),
		queue:         newRibRequestQueue[R](),
		transport:     transport,
		sink:          sink,
		logger:        logger,
		retryInterval: retryInterval,
		calls:         make(chan call),
		replies:       make(chan replyEvent[R]),
		retryCh:       make(chan struct{}, 1),
	}
}

// Run drives the resolver's event loop until ctx is cancelled. Exactly
// one goroutine must run this for the lifetime of the Resolver.
func (r *Resolver[R]) Run(ctx context.Context) {
	var retryTimer *time.Timer
	var retryC <-chan time.Time

	armRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
		retryTimer = time.NewTimer(r.retryInterval)
		retryC = retryTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			if retryTimer != nil {
				retryTimer.Stop()
			}
			return
		case c := <-r.calls:
			c.fn()
			close(c.done)
		case ev := <-r.replies:
			if r.handleReply(ev) {
				armRetry()
			}
		case <-retryC:
			retryC = nil
			r.retryFront()
		}
	}
}

func (r *Resolver[R]) do(fn func()) {
	c := call{fn: fn, done: make(chan struct{})}
	r.calls <- c
	<-c.done
}

// RegisterNexthop is register_nexthop: returns true once the requester's
// interest is either already satisfied from the cache or durably queued
// for the RIB.
func (r *Resolver[R]) RegisterNexthop(nexthop prefix.Addr, net prefix.Prefix, requester R) bool {
	var ok bool
	r.do(func() { ok = r.registerLocked(nexthop, net, requester) })
	return ok
}

func (r *Resolver[R]) registerLocked(nexthop prefix.Addr, net prefix.Prefix, requester R) bool {
	if r.failed {
		return false
	}
	if e, found := r.cache.find(nexthop); found {
		e.refs[nexthop]++
		return true
	}
	key := requestKey[R]{net: net, requester: requester}
	if pending, found := r.queue.pending[nexthop]; found {
		pending.requesters[key] = struct{}{}
		return true
	}
	e := newRegisterEntry[R](nexthop, nil)
	e.requesters[key] = struct{}{}
	r.queue.pushRegister(e)
	r.pump(context.Background())
	return true
}

// DeregisterNexthop is deregister_nexthop.
func (r *Resolver[R]) DeregisterNexthop(nexthop prefix.Addr, net prefix.Prefix, requester R) {
	r.do(func() { r.deregisterLocked(nexthop, net, requester) })
}

func (r *Resolver[R]) deregisterLocked(nexthop prefix.Addr, net prefix.Prefix, requester R) {
	key := requestKey[R]{net: net, requester: requester}

	if pending, found := r.queue.pending[nexthop]; found {
		if _, present := pending.requesters[key]; present {
			delete(pending.requesters, key)
		} else if pending.reregisterRefs > 0 {
			pending.reregisterRefs--
		}
		if len(pending.requesters) == 0 && pending.reregisterRefs == 0 {
			r.queue.cancelRegister(pending)
		}
		return
	}

	e, found := r.cache.find(nexthop)
	if !found {
		return
	}
	e.refs[nexthop]--
	if e.refs[nexthop] <= 0 {
		delete(e.refs, nexthop)
	}
	if len(e.refs) == 0 {
		r.cache.removeEntry(e)
		r.queue.pushDeregister(&deregisterEntry{baseAddr: e.baseAddr, prefixLen: e.prefixLen})
		r.pump(context.Background())
	}
}

// Lookup is lookup(nexthop): a synchronous read of the cache's current
// answer. Calling it on a next hop that was never registered (or whose
// registration is still pending, with no carried-over prior answer) is a
// precondition violation — it panics, matching the source's
// XLOG_ASSERT.
func (r *Resolver[R]) Lookup(nexthop prefix.Addr) (resolvable bool, metric uint32) {
	var ok bool
	r.do(func() { resolvable, metric, ok = r.lookupLocked(nexthop) })
	if !ok {
		panic(fmt.Sprintf("nexthop: Lookup(%s) called before registration resolved", nexthop))
	}
	return resolvable, metric
}

// LookupByNexthopWithoutEntry is lookup_by_nexthop_without_entry: the
// same cache-then-stale-answer probe as Lookup, but returns ok=false
// instead of panicking when nothing is known yet.
func (r *Resolver[R]) LookupByNexthopWithoutEntry(nexthop prefix.Addr) (resolvable bool, metric uint32, ok bool) {
	r.do(func() { resolvable, metric, ok = r.lookupLocked(nexthop) })
	return resolvable, metric, ok
}

func (r *Resolver[R]) lookupLocked(nexthop prefix.Addr) (bool, uint32, bool) {
	if e, found := r.cache.find(nexthop); found {
		return e.resolvable, e.metric, true
	}
	if pending, found := r.queue.pending[nexthop]; found && pending.prior != nil {
		return pending.prior.resolvable, pending.prior.metric, true
	}
	return false, 0, false
}

// RibClientRouteInfoChanged is rib_client_route_info_changed: a RIB
// upcall reporting that the route matching (addr, realPrefixLen) now has
// a different metric. Every entry this real prefix backs is updated and
// every next hop it covers is reported to the decision sink exactly once
// per changed entry.
func (r *Resolver[R]) RibClientRouteInfoChanged(addr prefix.Addr, realPrefixLen int, nexthop prefix.Addr, metric uint32) bool {
	var changed bool
	r.do(func() {
		set, found := r.cache.entriesByRealPrefix(addr, realPrefixLen)
		if !found {
			return
		}
		for e := range set {
			if e.metric == metric {
				continue
			}
			e.metric = metric
			changed = true
			if r.sink != nil {
				for nh := range e.refs {
					r.sink.NextHopMetricChanged(nh)
				}
			}
		}
	})
	return changed
}

// RibClientRouteInfoInvalid is rib_client_route_info_invalid: the RIB
// reports that every answer it gave out covering (addr, prefixLen) is no
// longer valid. Per next_hop_resolver.hh, "all the next hops need to be
// re-requested" — the entry is dropped from the cache and every next hop
// it covered is re-queued as a fresh register, carrying the old
// (resolvable, metric) answer as prior so a concurrent Lookup during the
// re-query still gets a coherent stale answer instead of panicking,
// mirroring NextHopRibRequest::reregister_nexthop.
func (r *Resolver[R]) RibClientRouteInfoInvalid(addr prefix.Addr, prefixLen int) bool {
	var invalidated bool
	r.do(func() {
		e, found := r.cache.findByCoveringPrefix(addr, prefixLen)
		if !found {
			return
		}
		r.cache.removeEntry(e)
		invalidated = true

		for nh, refs := range e.refs {
			prior := newEntry(e.baseAddr, e.prefixLen, e.realPrefixLen, e.resolvable, e.metric)
			if pending, ok := r.queue.pending[nh]; ok {
				pending.prior = prior
				pending.reregisterRefs += refs
				continue
			}
			re := newRegisterEntry[R](nh, prior)
			re.reregisterRefs = refs
			r.queue.pushRegister(re)
		}
		r.pump(context.Background())
	})
	return invalidated
}

// Failed reports whether a fatal transport error has disabled further
// registrations.
func (r *Resolver[R]) Failed() bool {
	var f bool
	r.do(func() { f = r.failed })
	return f
}

// pump dispatches the queue head if nothing is currently in flight.
func (r *Resolver[R]) pump(ctx context.Context) {
	if !r.queue.readyToDispatch() {
		return
	}
	qe := r.queue.popFront()
	switch {
	case qe.register != nil:
		e := qe.register
		r.transport.RegisterInterest(ctx, e.nexthop, func(rep RegisterReply, err error) {
			r.replies <- replyEvent[R]{nexthop: e.nexthop, reg: rep, err: err}
		})
	case qe.deregister != nil:
		d := qe.deregister
		r.transport.DeregisterInterest(ctx, d.baseAddr, d.prefixLen, func(err error) {
			r.replies <- replyEvent[R]{deregister: true, nexthop: d.baseAddr, prefixLen: d.prefixLen, err: err}
		})
	}
}

func (r *Resolver[R]) handleReply(ev replyEvent[R]) (retry bool) {
	if ev.deregister {
		r.queue.completeDeregister()
		if ev.err != nil {
			terr := asTransportError(ev.err)
			if terr.Fatal() {
				r.failed = true
				r.logger.Error("nexthop: deregister failed fatally", zap.String("nexthop", ev.nexthop.String()), zap.Error(ev.err))
			} else {
				r.logger.Warn("nexthop: deregister failed, will retry", zap.String("nexthop", ev.nexthop.String()), zap.Error(ev.err))
				r.queue.requeueFront(queueEntry[R]{deregister: &deregisterEntry{baseAddr: ev.nexthop, prefixLen: ev.prefixLen}})
				return true
			}
		}
		r.pump(context.Background())
		return false
	}

	e, ok := r.queue.pending[ev.nexthop]
	if !ok {
		r.logger.Warn("nexthop: stale register reply, no pending entry", zap.String("nexthop", ev.nexthop.String()))
		r.queue.completeRegister(&registerEntry[R]{nexthop: ev.nexthop})
		r.pump(context.Background())
		return false
	}

	if ev.err != nil {
		terr := asTransportError(ev.err)
		if terr.FatalOnFirstContact(r.seenSuccess) {
			r.failed = true
			r.queue.completeRegister(e)
			r.logger.Error("nexthop: register failed fatally", zap.String("nexthop", ev.nexthop.String()), zap.Error(ev.err))
			r.pump(context.Background())
			return false
		}
		r.logger.Warn("nexthop: register failed, will retry", zap.String("nexthop", ev.nexthop.String()), zap.Error(ev.err))
		r.queue.requeueFront(queueEntry[R]{register: e})
		return true
	}

	r.seenSuccess = true
	r.queue.completeRegister(e)

	var ne *Entry
	if e.prior != nil {
		ne = e.prior
		ne.baseAddr = ev.reg.BaseAddr
		ne.prefixLen = ev.reg.PrefixLen
		ne.realPrefixLen = ev.reg.RealPrefixLen
		ne.resolvable = ev.reg.Resolves
		ne.metric = ev.reg.Metric
	} else {
		ne = newEntry(ev.reg.BaseAddr, ev.reg.PrefixLen, ev.reg.RealPrefixLen, ev.reg.Resolves, ev.reg.Metric)
	}

	// validate_entry: "soon after a register when no register_nexthop
	// followed" (spec.md §9 Open Questions) is implemented at the first
	// event-loop tick after the reply, i.e. right here — if every
	// coalesced requester (and every carried-over reregistration ref)
	// already cancelled while the RPC was in flight, there is nothing
	// left to install.
	if n := len(e.requesters) + e.reregisterRefs; n > 0 {
		ne.refs[ev.nexthop] = n
		r.cache.addEntry(ne)
		if r.sink != nil {
			for i := 0; i < n; i++ {
				r.sink.NextHopMetricChanged(ev.nexthop)
			}
		}
	}

	r.pump(context.Background())
	return false
}

func (r *Resolver[R]) retryFront() {
	r.queue.releaseRetry()
	r.pump(context.Background())
}

func asTransportError(err error) *rpcerr.TransportError {
	if terr, ok := err.(*rpcerr.TransportError); ok {
		return terr
	}
	return rpcerr.New(rpcerr.SendFailed, "nexthop", err)
}
