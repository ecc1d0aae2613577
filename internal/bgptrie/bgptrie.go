// Package bgptrie specializes the reference-counted trie to hold BGP
// routes, additionally indexing routes that share an identical
// path-attribute list into a circular doubly-linked chain, so a
// decision process can walk "all routes with this attribute list"
// without a full trie scan.
package bgptrie

import (
	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/route-beacon/xorp-routecore/internal/reftrie"
	"github.com/route-beacon/xorp-routecore/internal/route"
)

// ChainedRoute is a SubnetRoute plus its links in the same-attribute-list
// ring, ChainedSubnetRoute in bgp_trie.hh. The chain pointers are
// container bookkeeping, not route state, so they live outside
// route.SubnetRoute rather than as fields on it.
type ChainedRoute[P route.Attrs] struct {
	*route.SubnetRoute[P]
	prev, next *ChainedRoute[P]
}

// Prev and Next walk the circular ring of routes sharing this route's
// attribute list. On a singleton chain both return the route itself.
func (c *ChainedRoute[P]) Prev() *ChainedRoute[P] { return c.prev }
func (c *ChainedRoute[P]) Next() *ChainedRoute[P] { return c.next }

// Trie is BgpTrie<A>: a reftrie.Trie of ChainedRoutes plus a pathmap
// from attribute-list identity to a representative chain member.
// Path_Att_Ptr_Cmp's pointer-identity ordering is replaced by keying the
// map directly on P, since route.AttributeManager already guarantees
// equal P values are the same logical attribute list.
type Trie[P route.Attrs] struct {
	trie    *reftrie.Trie[*ChainedRoute[P]]
	pathmap map[P]*ChainedRoute[P]
}

// New constructs an empty BgpTrie over the given address family. The
// underlying reftrie is given an onDestroy hook that unrefs a route's
// SubnetRoute at the moment its node is physically removed (immediately,
// or deferred to the last outstanding reference) — the Go stand-in for
// the delete_payload<ChainedSubnetRoute> template specialization in
// bgp_trie.hh, which calls unref() instead of freeing the payload.
func New[P route.Attrs](family prefix.Family) *Trie[P] {
	return &Trie[P]{
		trie: reftrie.New[*ChainedRoute[P]](family, func(cr *ChainedRoute[P]) {
			cr.Unref()
		}),
		pathmap: make(map[P]*ChainedRoute[P]),
	}
}

// Family reports the address family this trie is keyed over.
func (t *Trie[P]) Family() prefix.Family { return t.trie.Family() }

// Count returns the number of active routes in the trie.
func (t *Trie[P]) Count() int { return t.trie.Count() }

// Insert adds rt at net, replacing and unchaining whatever route
// previously occupied that exact prefix, then splices the new
// ChainedRoute into the ring for its attribute list (starting a new
// singleton ring and registering it in the pathmap if this is the
// first route with that attribute list). The trie's own structural
// tree keeps the node reachable regardless of refcount, so Insert
// releases the reftrie.Ref it receives rather than handing it to the
// caller — a node is findable as soon as it's inserted, with no
// ownership dance required just to store a route.
func (t *Trie[P]) Insert(net prefix.Prefix, rt *route.SubnetRoute[P]) {
	if old, ok := t.trie.FindExact(net); ok {
		// Unchain eagerly; the old route's own Unref fires via the
		// trie's onDestroy hook when Insert below overwrites its node.
		t.unchain(old)
	}
	cr := &ChainedRoute[P]{SubnetRoute: rt}
	ref, _ := t.trie.Insert(net, cr)
	t.chainIn(cr)
	ref.Release()
}

// Erase removes the route at net, if any, unchaining it from its
// attribute-list ring immediately (dropping the pathmap entry if the
// chain becomes empty); the underlying SubnetRoute is unreffed when the
// trie's onDestroy hook fires, which may be deferred if some other
// reftrie.Ref still references this node.
func (t *Trie[P]) Erase(net prefix.Prefix) {
	cr, ok := t.trie.FindExact(net)
	if !ok {
		return
	}
	t.unchain(cr)
	t.trie.Erase(net)
}

// DeleteAllNodes tears down every chain before clearing the trie,
// matching the source's two-phase teardown (chain links must not be
// left dangling into nodes the trie is about to discard).
func (t *Trie[P]) DeleteAllNodes() {
	for it := t.trie.Begin(); !it.Done(); it = it.Next() {
		cr := it.Value()
		cr.prev, cr.next = nil, nil
		cr.Unref()
	}
	t.pathmap = make(map[P]*ChainedRoute[P])
	t.trie = reftrie.New[*ChainedRoute[P]](t.trie.Family(), func(cr *ChainedRoute[P]) {
		cr.Unref()
	})
}

func (t *Trie[P]) chainIn(cr *ChainedRoute[P]) {
	key := cr.Attributes()
	rep, ok := t.pathmap[key]
	if !ok {
		cr.prev, cr.next = cr, cr
		t.pathmap[key] = cr
		return
	}
	cr.next = rep.next
	cr.prev = rep
	rep.next.prev = cr
	rep.next = cr
}

func (t *Trie[P]) unchain(cr *ChainedRoute[P]) {
	key := cr.Attributes()
	if cr.next == cr {
		delete(t.pathmap, key)
		cr.prev, cr.next = nil, nil
		return
	}
	cr.prev.next = cr.next
	cr.next.prev = cr.prev
	if t.pathmap[key] == cr {
		t.pathmap[key] = cr.next
	}
	cr.prev, cr.next = nil, nil
}

// Find returns the longest-prefix-matching active route for key.
func (t *Trie[P]) Find(key prefix.Prefix) (*ChainedRoute[P], bool) {
	return t.trie.Find(key)
}

// FindExact returns the route installed at exactly key, ignoring any
// less specific ancestor.
func (t *Trie[P]) FindExact(key prefix.Prefix) (*ChainedRoute[P], bool) {
	return t.trie.FindExact(key)
}

// FindAddr returns the longest-prefix-matching active route for addr.
func (t *Trie[P]) FindAddr(addr prefix.Addr) (*ChainedRoute[P], bool) {
	return t.trie.FindAddr(addr)
}

// Chain returns the representative member of the ring of routes
// sharing attrs, if any route currently has that attribute list.
func (t *Trie[P]) Chain(attrs P) (*ChainedRoute[P], bool) {
	cr, ok := t.pathmap[attrs]
	return cr, ok
}

// PathmapLen reports the number of distinct attribute-list chains
// currently registered.
func (t *Trie[P]) PathmapLen() int { return len(t.pathmap) }

// Validate asserts the underlying trie's structural invariants.
func (t *Trie[P]) Validate() { t.trie.Validate() }

// Begin returns an iterator over all active routes in trie order
// (independent of chain order).
func (t *Trie[P]) Begin() reftrie.Iterator[*ChainedRoute[P]] { return t.trie.Begin() }

// SearchSubtree returns an iterator over the active routes contained in key.
func (t *Trie[P]) SearchSubtree(key prefix.Prefix) reftrie.Iterator[*ChainedRoute[P]] {
	return t.trie.SearchSubtree(key)
}
