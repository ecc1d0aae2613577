// Package reftrie implements the reference-counted trie variant: the same
// binary patricia trie as package trie, but nodes carry a refcount and a
// deleted flag, so a node logically erased while references to it are
// still outstanding is preserved (and skipped by iteration) until the
// last reference drops.
package reftrie

import (
	"fmt"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
)

// maxRefcount is the 15-bit refcount ceiling from ref_trie.hh's
// NODE_REFS_MASK (0x7fff); incrementing past it is a fatal programming
// error, matching the spec's refcount-corruption invariant.
const maxRefcount = 0x7fff

type node[V any] struct {
	up, left, right *node[V]
	key             prefix.Prefix
	hasPayload      bool // a payload was assigned and not yet physically cleared
	deleted         bool // logically erased; payload retained only for outstanding refs
	refcount        int
	payload         V
}

// active reports whether n carries a payload that has not been logically
// erased — has_active_payload() in ref_trie.hh.
func (n *node[V]) active() bool {
	return n != nil && n.hasPayload && !n.deleted
}

func (n *node[V]) incrRefcount() {
	if n.refcount >= maxRefcount {
		panic(fmt.Sprintf("reftrie: refcount overflow at %s", n.key))
	}
	n.refcount++
}

func (n *node[V]) decrRefcount() {
	if n.refcount <= 0 {
		panic(fmt.Sprintf("reftrie: refcount underflow at %s", n.key))
	}
	n.refcount--
}

func (n *node[V]) isLeft() bool {
	return n.up != nil && n == n.up.left
}

func (n *node[V]) leftmost() *node[V] {
	cur := n
	for cur.left != nil || cur.right != nil {
		if cur.left != nil {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return cur
}

// next walks to the next active node in the same depth-first order as
// package trie, using has_active_payload in place of has_payload so
// deleted-but-referenced nodes are skipped.
func (n *node[V]) next(root prefix.Prefix) *node[V] {
	cur := n
	for {
		wasLeft := cur.isLeft()
		cur = cur.up
		if cur == nil {
			return nil
		}
		if wasLeft && cur.right != nil {
			cur = cur.right.leftmost()
		}
		if !root.Contains(cur.key) {
			return nil
		}
		if cur.active() {
			return cur
		}
	}
}

func (n *node[V]) find(key prefix.Prefix) *node[V] {
	var cand *node[V]
	r := n
	for r != nil && r.key.Contains(key) {
		if r.active() {
			cand = r
		}
		if r.left != nil && r.left.key.Contains(key) {
			r = r.left
		} else {
			r = r.right
		}
	}
	return cand
}

func (n *node[V]) findSubtree(key prefix.Prefix) *node[V] {
	r := n
	var cand *node[V]
	if r != nil && key.Contains(r.key) {
		cand = r
	}
	for r != nil && r.key.Contains(key) {
		cand = r
		if r.left != nil && r.left.key.Contains(key) {
			r = r.left
		} else {
			r = r.right
		}
	}
	return cand
}

// collapse physically removes n (already stripped of its payload) from
// the trie, folding away any now-useless internal ancestors, and returns
// the new root. Identical to package trie's erase() walk: ref_trie.hh's
// RefTrieNode::erase reuses the base TrieNode erase machinery once a node
// is eligible for physical removal.
func (n *node[V]) collapse() *node[V] {
	me := n
	for me != nil && !me.hasPayload && (me.left == nil || me.right == nil) {
		parent := me.up
		child := me.left
		if child == nil {
			child = me.right
		}
		if child != nil {
			child.up = parent
		}
		if parent == nil {
			parent = child
		} else if parent.left == me {
			parent.left = child
		} else {
			parent.right = child
		}
		me = parent
	}
	for me != nil && me.up != nil {
		me = me.up
	}
	return me
}

func (n *node[V]) validate(parent *node[V]) {
	if n == nil {
		return
	}
	if n.up != parent {
		panic(fmt.Sprintf("reftrie: node %s has bad parent link", n.key))
	}
	if parent != nil && !parent.key.Contains(n.key) {
		panic(fmt.Sprintf("reftrie: node %s not contained in parent %s", n.key, parent.key))
	}
	if !n.hasPayload && (n.left == nil || n.right == nil) {
		panic(fmt.Sprintf("reftrie: useless internal node %s", n.key))
	}
	n.left.validate(n)
	n.right.validate(n)
}

// Trie is the reference-counted trie, RefPrefixTrie<K,V> in the spec.
type Trie[V any] struct {
	family    prefix.Family
	root      *node[V]
	count     int
	onDestroy func(V)
}

// New constructs an empty reference-counted trie over the given family.
// The optional onDestroy callback is invoked exactly once per discarded
// payload: when Insert overwrites an existing payload at the same key,
// and when a node is physically removed from the trie (immediately on
// Erase if unreferenced, or on the Release that drops its last
// outstanding reference otherwise).
// This is the Go stand-in for ref_trie.hh's delete_payload template
// specialization hook — e.g. BgpTrie uses it to unref the SubnetRoute
// a ChainedRoute wraps instead of just letting the GC reclaim it.
func New[V any](family prefix.Family, onDestroy ...func(V)) *Trie[V] {
	t := &Trie[V]{family: family}
	if len(onDestroy) > 0 {
		t.onDestroy = onDestroy[0]
	}
	return t
}

// Family reports the address family this trie is keyed over.
func (t *Trie[V]) Family() prefix.Family { return t.family }

// Count returns the number of currently active (non-deleted) full nodes.
func (t *Trie[V]) Count() int { return t.count }

func (t *Trie[V]) zeroRoot() prefix.Prefix {
	return prefix.MustNewPrefix(prefix.ZeroAddr(t.family), 0)
}

// Insert adds or replaces the payload at key and returns a Ref holding
// one reference to the node — the reference-holding iterator insert
// returns in ref_trie.hh. Geometrically identical to trie.Trie.Insert's
// six-way case split; the exact-match branch additionally resurrects a
// deleted node (clearing its deleted flag), matching RefTrieNode's
// set_payload clearing NODE_DELETED.
func (t *Trie[V]) Insert(key prefix.Prefix, value V) (ref Ref[V], replaced bool) {
	slot := &t.root
	var parent *node[V]
	leq := func(a, b prefix.Addr) bool { return !b.Less(a) }
	geq := func(a, b prefix.Addr) bool { return !a.Less(b) }
	gt := func(a, b prefix.Addr) bool { return b.Less(a) }

	for {
		cur := *slot
		if cur == nil {
			n := &node[V]{key: key, up: parent, hasPayload: true, payload: value}
			*slot = n
			t.count++
			return t.refTo(n), false
		}
		if cur.key.Equal(key) {
			wasActive := cur.active()
			replaced = cur.hasPayload
			if replaced && t.onDestroy != nil {
				t.onDestroy(cur.payload)
			}
			cur.hasPayload = true
			cur.deleted = false
			cur.payload = value
			if !wasActive {
				t.count++
			}
			return t.refTo(cur), replaced
		}

		y := cur.key
		xl, xh, xm := key.Base(), key.TopAddr(), key.Midpoint()
		yl, yh, ym := y.Base(), y.TopAddr(), y.Midpoint()

		switch {
		case xh.Less(yl): // case A
			common := prefix.CommonSubnet(key, y)
			newRoot := &node[V]{key: common, up: parent}
			newRoot.right, cur.up = cur, newRoot
			leaf := &node[V]{key: key, up: newRoot, hasPayload: true, payload: value}
			newRoot.left = leaf
			*slot = newRoot
			t.count++
			return t.refTo(leaf), false

		case yh.Less(xl): // case B
			common := prefix.CommonSubnet(key, y)
			newRoot := &node[V]{key: common, up: parent}
			newRoot.left, cur.up = cur, newRoot
			leaf := &node[V]{key: key, up: newRoot, hasPayload: true, payload: value}
			newRoot.right = leaf
			*slot = newRoot
			t.count++
			return t.refTo(leaf), false

		case geq(xl, yl) && leq(xh, ym): // case C
			parent = cur
			slot = &cur.left
			continue

		case gt(xl, ym) && leq(xh, yh): // case D
			parent = cur
			slot = &cur.right
			continue

		case gt(yl, xm) && leq(yh, xh): // case E
			leaf := &node[V]{key: key, up: parent, hasPayload: true, payload: value}
			leaf.right, cur.up = cur, leaf
			*slot = leaf
			t.count++
			return t.refTo(leaf), false

		case geq(yl, xl) && leq(yh, xm): // case F
			leaf := &node[V]{key: key, up: parent, hasPayload: true, payload: value}
			leaf.left, cur.up = cur, leaf
			*slot = leaf
			t.count++
			return t.refTo(leaf), false

		default:
			panic(fmt.Sprintf("reftrie: impossible case inserting %s at %s", key, y))
		}
	}
}

func (t *Trie[V]) refTo(n *node[V]) Ref[V] {
	n.incrRefcount()
	return Ref[V]{trie: t, node: n}
}

// Erase logically removes key: if no references are outstanding the node
// is physically collapsed immediately, exactly like package trie; if
// references remain, the node is marked deleted and skipped by
// iteration/find until the last Ref is released. A non-existent key is a
// no-op.
func (t *Trie[V]) Erase(key prefix.Prefix) {
	n := t.root.find(key)
	if n == nil || !n.key.Equal(key) {
		return
	}
	t.count--
	if n.refcount == 0 {
		if t.onDestroy != nil {
			t.onDestroy(n.payload)
		}
		n.hasPayload = false
		var zero V
		n.payload = zero
		t.root = n.collapse()
		return
	}
	n.deleted = true
}

// Find returns the value for the longest-prefix active match of key.
func (t *Trie[V]) Find(key prefix.Prefix) (value V, ok bool) {
	n := t.root.find(key)
	if n == nil {
		return value, false
	}
	return n.payload, true
}

// FindExact returns the value stored at exactly key, ignoring any less
// specific active ancestor a longest-prefix match would otherwise
// return. Used by callers (e.g. BgpTrie) that need to know whether a
// node already occupies a given prefix before replacing it.
func (t *Trie[V]) FindExact(key prefix.Prefix) (value V, ok bool) {
	n := t.root.find(key)
	if n == nil || !n.key.Equal(key) {
		return value, false
	}
	return n.payload, true
}

// FindAddr is Find(prefix.HostPrefix(addr)).
func (t *Trie[V]) FindAddr(addr prefix.Addr) (value V, ok bool) {
	return t.Find(prefix.HostPrefix(addr))
}

// FindSubtree returns the key of the highest node (active or not)
// contained in key.
func (t *Trie[V]) FindSubtree(key prefix.Prefix) (subtreeKey prefix.Prefix, ok bool) {
	n := t.root.findSubtree(key)
	if n == nil {
		return prefix.Prefix{}, false
	}
	return n.key, true
}

// Validate asserts structural invariants, panicking on violation.
func (t *Trie[V]) Validate() {
	t.root.validate(nil)
}

// Ref is a strong reference to a trie node, the reference-holding
// iterator of RefPrefixTrie. It must be released exactly once; Clone
// creates an additional reference rather than aliasing one.
type Ref[V any] struct {
	trie *Trie[V]
	node *node[V]
}

// Valid reports whether the reference points at a node at all (a zero
// Ref, e.g. from a failed lookup, is not valid).
func (r Ref[V]) Valid() bool { return r.node != nil }

// Key returns the referenced node's key.
func (r Ref[V]) Key() prefix.Prefix { return r.node.key }

// Value returns the referenced node's payload. Valid even after the node
// has been logically erased, as long as this Ref has not been released —
// that is the entire point of deferred deletion.
func (r Ref[V]) Value() V { return r.node.payload }

// Deleted reports whether the node has been logically erased (it is kept
// alive only by outstanding references, including this one).
func (r Ref[V]) Deleted() bool { return r.node.deleted }

// Clone acquires an additional reference to the same node.
func (r Ref[V]) Clone() Ref[V] {
	r.node.incrRefcount()
	return r
}

// Release drops this reference. If the refcount reaches zero on a node
// already marked deleted, the node is physically collapsed out of the
// trie, mirroring ~TrieIterator's release behavior in ref_trie.hh.
func (r Ref[V]) Release() {
	if r.node == nil {
		return
	}
	r.node.decrRefcount()
	if r.node.refcount == 0 && r.node.deleted {
		if r.trie.onDestroy != nil {
			r.trie.onDestroy(r.node.payload)
		}
		r.node.hasPayload = false
		var zero V
		r.node.payload = zero
		r.trie.root = r.node.collapse()
	}
}

// Iterator walks active nodes depth-first, left-to-right, skipping
// logically deleted ones, bounded to root's range.
type Iterator[V any] struct {
	cur  *node[V]
	root prefix.Prefix
}

// Begin returns an iterator over the whole trie.
func (t *Trie[V]) Begin() Iterator[V] {
	return t.SearchSubtree(t.zeroRoot())
}

// SearchSubtree returns an iterator over the active nodes contained in key.
func (t *Trie[V]) SearchSubtree(key prefix.Prefix) Iterator[V] {
	sub := t.root.findSubtree(key)
	var cur *node[V]
	if sub != nil {
		cur = sub.leftmost()
		if !cur.active() {
			cur = cur.next(key)
		}
	}
	return Iterator[V]{cur: cur, root: key}
}

// Done reports whether the iterator is exhausted.
func (it Iterator[V]) Done() bool { return it.cur == nil }

// Key returns the current node's key. Valid only when !Done().
func (it Iterator[V]) Key() prefix.Prefix { return it.cur.key }

// Value returns the current node's payload. Valid only when !Done().
func (it Iterator[V]) Value() V { return it.cur.payload }

// Next advances the iterator.
func (it Iterator[V]) Next() Iterator[V] {
	if it.cur == nil {
		return it
	}
	return Iterator[V]{cur: it.cur.next(it.root), root: it.root}
}
