// Package route implements the reference-counted BGP route record
// (SubnetRoute) and its process-wide path-attribute interning registry.
package route

// Attrs is the constraint a path-attribute-list payload type must
// satisfy to be interned: plain Go value equality stands in for the
// source's PathAttributeList::operator==, so two routes built from
// structurally identical attribute lists always intern to the same
// handle.
type Attrs interface {
	comparable
}

// attrHandle is the shared, refcounted storage for one interned
// attribute list. Two SubnetRoutes built from equal P values hold the
// same *attrHandle, the Go analogue of attribute_manager.hh's pointer
// identity guarantee.
type attrHandle[P Attrs] struct {
	value P
	refs  int
}

// AttributeManager interns path-attribute lists so that routes sharing
// an identical list share one copy, per
// original_source/trunk/xorp/bgp/subnet_route.hh's
// "static AttributeManager<A> _att_mgr" (one instance per address
// family). The source makes it a hidden per-template-instantiation
// global; this translation makes it an explicit value the caller
// constructs once per family and threads through SubnetRoute
// constructors, since a hidden package-level global would make every
// test share interning state. Mutation assumes single-threaded,
// event-loop-confined access, so there is no internal lock — matching
// the source's comment that the attribute manager is mutated only on
// the event loop thread.
type AttributeManager[P Attrs] struct {
	table map[P]*attrHandle[P]
}

// NewAttributeManager constructs an empty interning registry.
func NewAttributeManager[P Attrs]() *AttributeManager[P] {
	return &AttributeManager[P]{table: make(map[P]*attrHandle[P])}
}

// intern returns the shared handle for value, creating one on first use
// and bumping its refcount otherwise. add_attribute_list in the source.
func (m *AttributeManager[P]) intern(value P) *attrHandle[P] {
	if h, ok := m.table[value]; ok {
		h.refs++
		return h
	}
	h := &attrHandle[P]{value: value, refs: 1}
	m.table[value] = h
	return h
}

// release drops one reference to h, dropping the interned entry once
// its refcount reaches zero. delete_attribute_list in the source.
func (m *AttributeManager[P]) release(h *attrHandle[P]) {
	h.refs--
	if h.refs <= 0 {
		delete(m.table, h.value)
	}
}

// Count reports the number of distinct interned attribute lists
// currently live, number_of_managed_atts in the source (debug-only
// there; kept here as a plain accessor, useful for metrics).
func (m *AttributeManager[P]) Count() int { return len(m.table) }
