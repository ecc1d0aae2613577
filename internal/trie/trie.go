// Package trie implements the binary patricia trie keyed by IP prefix
// that the route-information core is built on: exact/longest-prefix/
// subtree/range lookups over IPv4 or IPv6 subnets.
package trie

import (
	"fmt"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
)

// node is the trie's element. A node with a payload ("full") may have 0,
// 1, or 2 children; a node without one ("empty") is purely structural and
// must have exactly two children, or erase collapses it away.
type node[V any] struct {
	up, left, right *node[V]
	key             prefix.Prefix
	hasPayload      bool
	payload         V
}

func (n *node[V]) isLeft() bool {
	return n.up != nil && n == n.up.left
}

// leftmost descends to the deepest leaf reachable by always preferring
// the left child, falling back to right when there is no left child.
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

// next walks to the next full node in depth-first, left-to-right,
// node-after-its-subtrees order, bounded to descendants of root. Returns
// nil once the walk would leave root's range.
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
		if cur.hasPayload {
			return cur
		}
	}
}

// low returns the lowest address covered by a full node in the subtree
// rooted at n, descending left-first.
func (n *node[V]) low() prefix.Addr {
	cur := n
	for !cur.hasPayload && (cur.left != nil || cur.right != nil) {
		if cur.left != nil {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return cur.key.Base()
}

// high returns the highest address covered by a full node in the subtree
// rooted at n, descending right-first.
func (n *node[V]) high() prefix.Addr {
	cur := n
	for !cur.hasPayload && (cur.right != nil || cur.left != nil) {
		if cur.right != nil {
			cur = cur.right
		} else {
			cur = cur.left
		}
	}
	return cur.key.TopAddr()
}

// find returns the deepest full node whose key contains key — the
// longest-prefix match.
func (n *node[V]) find(key prefix.Prefix) *node[V] {
	var cand *node[V]
	r := n
	for r != nil && r.key.Contains(key) {
		if r.hasPayload {
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

// findSubtree returns the highest node (full or empty) whose key is
// contained in key.
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

// lowerBound returns the first node (in iteration order) whose key is >=
// key in the containment-biased total order.
func (n *node[V]) lowerBound(key prefix.Prefix) *node[V] {
	var cand *node[V]
	r := n
	for r != nil && r.key.Contains(key) {
		cand = r
		if r.left != nil && r.left.key.Contains(key) {
			r = r.left
		} else {
			r = r.right
		}
	}
	if cand == nil {
		cand = n
	}
	if cand == nil {
		return nil
	}
	if cand.key.Equal(key) {
		if cand.hasPayload {
			return cand
		}
		return cand.next(prefix.MustNewPrefix(prefix.ZeroAddr(key.Family()), 0))
	}
	var from *node[V]
	for cand != nil {
		if from == nil {
			if cand.left != nil && key.Less(cand.left.key) {
				return cand.left.leftmost()
			}
			if cand.right != nil && key.Less(cand.right.key) {
				return cand.right.leftmost()
			}
		} else if from == cand.left && cand.right != nil {
			return cand.right.leftmost()
		}
		if cand.hasPayload && key.Less(cand.key) {
			return cand
		}
		from, cand = cand, cand.up
	}
	return nil
}

// validate asserts the structural invariants trie.hh's VALIDATE_XORP_TRIE
// debug build checks: parent back-links are correct, non-root children
// are strictly contained in their parent, and no empty node is missing a
// child. It panics (the Go analogue of XORP's abort()) on violation.
func (n *node[V]) validate(parent *node[V]) {
	if n == nil {
		return
	}
	if n.up != parent {
		panic(fmt.Sprintf("trie: node %s has bad parent link", n.key))
	}
	if parent != nil && !parent.key.Contains(n.key) {
		panic(fmt.Sprintf("trie: node %s not contained in parent %s", n.key, parent.key))
	}
	if !n.hasPayload && (n.left == nil || n.right == nil) {
		panic(fmt.Sprintf("trie: useless internal node %s", n.key))
	}
	n.left.validate(n)
	n.right.validate(n)
}

// erase removes this node's payload and collapses any useless internal
// nodes left behind on the path to the root, returning the trie's new
// root.
func (n *node[V]) erase() *node[V] {
	n.hasPayload = false
	var zero V
	n.payload = zero

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

// Trie is a binary patricia trie over prefix.Prefix keys of a single
// address family, the PrefixTrie<K,V> of the route-information core.
type Trie[V any] struct {
	family prefix.Family
	root   *node[V]
	count  int
}

// New constructs an empty trie over the given address family.
func New[V any](family prefix.Family) *Trie[V] {
	return &Trie[V]{family: family}
}

// Family reports the address family this trie is keyed over.
func (t *Trie[V]) Family() prefix.Family { return t.family }

// Count returns the number of full (payload-bearing) nodes.
func (t *Trie[V]) Count() int { return t.count }

// zeroRoot is the "contains everything" sentinel prefix (len 0 of t's
// family) used to bound whole-trie iteration, matching the default
// IPNet<A>() key TrieIterator's begin() passes.
func (t *Trie[V]) zeroRoot() prefix.Prefix {
	return prefix.MustNewPrefix(prefix.ZeroAddr(t.family), 0)
}

// Insert adds or replaces the payload at key, returning whether an
// existing full node was overwritten. Mirrors TrieNode::insert's six-way
// case split on how x's (key's) range relates to the node y currently
// occupying *slot: disjoint ranges graft a new empty common-ancestor node
// (A/B); x nested in one of y's halves recurses down into y (C/D); y
// nested in one of x's halves makes x the new root with y demoted to a
// child (E/F).
func (t *Trie[V]) Insert(key prefix.Prefix, value V) (replaced bool) {
	slot := &t.root
	var parent *node[V]
	leq := func(a, b prefix.Addr) bool { return !b.Less(a) } // a <= b
	geq := func(a, b prefix.Addr) bool { return !a.Less(b) } // a >= b
	gt := func(a, b prefix.Addr) bool { return b.Less(a) }   // a > b

	for {
		cur := *slot
		if cur == nil {
			*slot = &node[V]{key: key, up: parent, hasPayload: true, payload: value}
			t.count++
			return false
		}
		if cur.key.Equal(key) {
			replaced = cur.hasPayload
			cur.hasPayload = true
			cur.payload = value
			if !replaced {
				t.count++
			}
			return replaced
		}

		y := cur.key
		xl, xh, xm := key.Base(), key.TopAddr(), key.Midpoint()
		yl, yh, ym := y.Base(), y.TopAddr(), y.Midpoint()

		switch {
		case xh.Less(yl): // case A: x entirely below y.
			common := prefix.CommonSubnet(key, y)
			newRoot := &node[V]{key: common, up: parent}
			newRoot.right, cur.up = cur, newRoot
			newRoot.left = &node[V]{key: key, up: newRoot, hasPayload: true, payload: value}
			*slot = newRoot
			t.count++
			return false

		case yh.Less(xl): // case B: y entirely below x.
			common := prefix.CommonSubnet(key, y)
			newRoot := &node[V]{key: common, up: parent}
			newRoot.left, cur.up = cur, newRoot
			newRoot.right = &node[V]{key: key, up: newRoot, hasPayload: true, payload: value}
			*slot = newRoot
			t.count++
			return false

		case geq(xl, yl) && leq(xh, ym): // case C: x fits in y's low half.
			parent = cur
			slot = &cur.left
			continue

		case gt(xl, ym) && leq(xh, yh): // case D: x fits in y's high half.
			parent = cur
			slot = &cur.right
			continue

		case gt(yl, xm) && leq(yh, xh): // case E: y fits in x's high half.
			newRoot := &node[V]{key: key, up: parent, hasPayload: true, payload: value}
			newRoot.right, cur.up = cur, newRoot
			*slot = newRoot
			t.count++
			return false

		case geq(yl, xl) && leq(yh, xm): // case F: y fits in x's low half.
			newRoot := &node[V]{key: key, up: parent, hasPayload: true, payload: value}
			newRoot.left, cur.up = cur, newRoot
			*slot = newRoot
			t.count++
			return false

		default:
			panic(fmt.Sprintf("trie: impossible case inserting %s at %s", key, y))
		}
	}
}

// Erase removes the full node at key, if any. Erasing a non-existent key
// is a no-op.
func (t *Trie[V]) Erase(key prefix.Prefix) {
	n := t.root.find(key)
	if n == nil || !n.hasPayload || !n.key.Equal(key) {
		return
	}
	t.count--
	t.root = n.erase()
}

// Find returns the value and true for the longest-prefix match of key, or
// the zero value and false if no route covers it.
func (t *Trie[V]) Find(key prefix.Prefix) (value V, ok bool) {
	n := t.root.find(key)
	if n == nil {
		return value, false
	}
	return n.payload, true
}

// FindAddr is Find(prefix.HostPrefix(addr)): the longest-prefix match for
// a bare address.
func (t *Trie[V]) FindAddr(addr prefix.Addr) (value V, ok bool) {
	return t.Find(prefix.HostPrefix(addr))
}

// FindSubtree returns the key and value-bearing-or-not existence of the
// highest node whose key is contained in key, and whether such a node
// exists. Used to answer "what is the smallest enclosing subtree of this
// range", irrespective of payload.
func (t *Trie[V]) FindSubtree(key prefix.Prefix) (subtreeKey prefix.Prefix, ok bool) {
	n := t.root.findSubtree(key)
	if n == nil {
		return prefix.Prefix{}, false
	}
	return n.key, true
}

// LowerBound returns the key and value of the first full node whose key
// is >= key in the containment-biased total order from package prefix.
func (t *Trie[V]) LowerBound(key prefix.Prefix) (foundKey prefix.Prefix, value V, ok bool) {
	n := t.root.lowerBound(key)
	if n == nil {
		return prefix.Prefix{}, value, false
	}
	return n.key, n.payload, true
}

// FindBounds returns the inclusive endpoints of the largest address range
// containing addr that maps to the same longest-prefix route as addr
// does (or, if addr matches no route, the largest range with no route at
// all). Mirrors TrieNode::find_bounds's case analysis, operating on the
// (key, left, right) fields of a logical current node that starts out
// either the true longest-prefix-match node or, if there is none, a
// synthetic whole-address-space node with the real root as its left
// child.
func (t *Trie[V]) FindBounds(addr prefix.Addr) (lo, hi prefix.Addr) {
	n := t.root.find(prefix.HostPrefix(addr))

	var key prefix.Prefix
	var left, right *node[V]
	if n != nil {
		key, left, right = n.key, n.left, n.right
	} else {
		key = t.zeroRoot()
		left, right = t.root, nil
	}
	lo, hi = key.Base(), key.TopAddr()

	for {
		x := left
		if x == nil {
			x = right
		}
		if x == nil {
			break
		}

		changed := false
		switch {
		case addr.Less(x.key.Base()): // case 1/1': addr below x's range.
			hi = x.low().Dec()
		case !x.key.TopAddr().Less(addr): // case 2/2': addr within x's range.
			key, left, right = x.key, x.left, x.right
			changed = true
		case left == nil || right == nil: // case 3': only one child, addr above it.
			lo = x.high().Inc()
		case addr.Less(right.key.Base()): // case 3: addr between the two children.
			lo = x.high().Inc()
			hi = right.low().Dec()
		case !right.key.TopAddr().Less(addr): // case 4: addr within the right child.
			key, left, right = right.key, right.left, right.right
			changed = true
		default: // case 5: addr above the right child.
			lo = right.high().Inc()
		}
		if !changed {
			break
		}
	}
	return lo, hi
}

// Validate asserts the trie's structural invariants, panicking on
// violation. Intended for tests, matching trie.hh's VALIDATE_XORP_TRIE
// debug build.
func (t *Trie[V]) Validate() {
	t.root.validate(nil)
}

// Iterator walks full nodes depth-first, left-to-right, each node visited
// after both its subtrees, bounded to the range named by root.
type Iterator[V any] struct {
	cur  *node[V]
	root prefix.Prefix
}

// Begin returns an iterator over the whole trie.
func (t *Trie[V]) Begin() Iterator[V] {
	return t.SearchSubtree(t.zeroRoot())
}

// SearchSubtree returns an iterator over only the nodes whose keys are
// contained in key.
func (t *Trie[V]) SearchSubtree(key prefix.Prefix) Iterator[V] {
	sub := t.root.findSubtree(key)
	var cur *node[V]
	if sub != nil {
		// leftmost() always lands on a full node: a childless node is
		// only ever created with a payload, and erase() collapses any
		// node that loses its payload while having fewer than two
		// children, so a payload-less leaf can't exist.
		cur = sub.leftmost()
	}
	return Iterator[V]{cur: cur, root: key}
}

// Done reports whether the iterator has been exhausted.
func (it Iterator[V]) Done() bool { return it.cur == nil }

// Key returns the current node's key. Valid only when !Done().
func (it Iterator[V]) Key() prefix.Prefix { return it.cur.key }

// Value returns the current node's payload. Valid only when !Done().
func (it Iterator[V]) Value() V { return it.cur.payload }

// Next advances the iterator and returns it, so iteration reads
// `for it := t.Begin(); !it.Done(); it = it.Next() { ... }`.
func (it Iterator[V]) Next() Iterator[V] {
	if it.cur == nil {
		return it
	}
	return Iterator[V]{cur: it.cur.next(it.root), root: it.root}
}
