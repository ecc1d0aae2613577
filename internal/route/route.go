package route

import (
	"fmt"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
)

// Flags packs the boolean metadata bits of a route, the SRF_* constants
// of subnet_route.hh.
type Flags uint16

const (
	FlagInUse Flags = 1 << iota
	FlagWinner
	FlagFiltered
	FlagDeleted
	FlagNHResolved
)

// AggrLenIgnore is the aggregation-prefix-length sentinel meaning "this
// route has not been marked for aggregation", SRF_AGGR_PREFLEN_MASK's
// all-ones value in the source.
const AggrLenIgnore uint8 = 0xff

// PolicyTags is an opaque bitset of policy classification tags. This
// package does not interpret it; it only carries it between pipeline
// stages, per spec's "carries enough structure for a decision layer".
type PolicyTags uint64

// PolicyFilterRef is an opaque reference to a policy filter. Zero means
// "no filter installed at this slot".
type PolicyFilterRef uint32

// RouteMetadata is the non-identity half of a SubnetRoute: flags, the
// IGP metric recorded when the route won decision, a 16-bit refcount,
// and policy bookkeeping the decision layer owns but this package only
// stores.
type RouteMetadata struct {
	flags         Flags
	refcount      uint16
	aggrPrefixLen uint8
	aggrBrief     bool
	igpMetric     uint32
	policyTags    PolicyTags
	policyFilters [3]PolicyFilterRef
}

// SubnetRoute is a reference-counted BGP routing table entry: a subnet,
// an interned path-attribute list, an optional pre-filter parent, and
// metadata. P is the attribute-list payload type; two routes sharing an
// equal P value share one interned handle.
//
// SubnetRoute must not be destroyed directly; call Unref. The refcount
// tracks how many *other* holders (a child's parent link, or an
// explicit Ref) depend on this instance — a freshly constructed route's
// own refcount is zero until something else references it.
type SubnetRoute[P Attrs] struct {
	mgr    *AttributeManager[P]
	net    prefix.Prefix
	attrs  *attrHandle[P]
	parent *SubnetRoute[P]
	meta   RouteMetadata

	destroyed bool // poison bit: catches use-after-unref the way the source's 0xbad pointers did
}

// New constructs a SubnetRoute with an undefined IGP metric (matching
// the source's two-argument constructor, which leaves igp_metric at
// 0xffffffff until a later set_is_winner). If parent is non-nil its
// refcount is bumped.
func New[P Attrs](mgr *AttributeManager[P], net prefix.Prefix, attrs P, parent *SubnetRoute[P]) *SubnetRoute[P] {
	return newRoute(mgr, net, attrs, parent, 0xffffffff)
}

// NewWithMetric is New, additionally recording the IGP metric at
// construction time (the source's three-argument constructor).
func NewWithMetric[P Attrs](mgr *AttributeManager[P], net prefix.Prefix, attrs P, parent *SubnetRoute[P], igpMetric uint32) *SubnetRoute[P] {
	return newRoute(mgr, net, attrs, parent, igpMetric)
}

func newRoute[P Attrs](mgr *AttributeManager[P], net prefix.Prefix, attrs P, parent *SubnetRoute[P], igpMetric uint32) *SubnetRoute[P] {
	r := &SubnetRoute[P]{
		mgr:   mgr,
		net:   net,
		attrs: mgr.intern(attrs),
		meta: RouteMetadata{
			flags:         FlagInUse,
			aggrPrefixLen: AggrLenIgnore,
			igpMetric:     igpMetric,
		},
	}
	if parent != nil {
		parent.checkLive()
		r.parent = parent
		parent.bumpRefcount(1)
	}
	return r
}

// Clone duplicates a route under a new attribute list, recording the
// original as parent. Flags are copied from the original but the
// deleted flag is cleared: SubnetRoute's copy constructor, which clears
// SRF_REFCOUNT and SRF_DELETED from the copied flag word so the clone
// starts as a fresh, unreferenced node.
func (r *SubnetRoute[P]) Clone(newAttrs P) *SubnetRoute[P] {
	r.checkLive()
	clone := &SubnetRoute[P]{
		mgr:    r.mgr,
		net:    r.net,
		attrs:  r.mgr.intern(newAttrs),
		parent: r,
		meta:   r.meta,
	}
	clone.meta.flags &^= FlagDeleted
	clone.meta.refcount = 0
	r.bumpRefcount(1)
	return clone
}

func (r *SubnetRoute[P]) checkLive() {
	if r.destroyed {
		panic("route: use of a SubnetRoute after its last reference was released")
	}
}

// bumpRefcount adjusts the refcount by delta (+1 or -1), panicking on
// overflow/underflow exactly as the source's bump_refcount assertions
// do, and performs the deferred delete when a refcount drop to zero
// finds the deleted flag already set.
func (r *SubnetRoute[P]) bumpRefcount(delta int) {
	r.checkLive()
	switch delta {
	case 1:
		if r.meta.refcount == 0xffff {
			panic(fmt.Sprintf("route: refcount overflow on %s", r.net))
		}
		r.meta.refcount++
	case -1:
		if r.meta.refcount == 0 {
			panic(fmt.Sprintf("route: refcount underflow on %s", r.net))
		}
		r.meta.refcount--
	default:
		panic("route: bumpRefcount delta must be +1 or -1")
	}
	if r.meta.refcount == 0 && r.meta.flags&FlagDeleted != 0 {
		r.destroy()
	}
}

// destroy releases this route's own resources (its attribute handle and
// its hold on its parent, cascading the parent's deferred delete if
// this was its last reference) and poisons the instance against further
// use. ~SubnetRoute in the source.
func (r *SubnetRoute[P]) destroy() {
	r.mgr.release(r.attrs)
	if r.parent != nil {
		r.parent.bumpRefcount(-1)
	}
	r.destroyed = true
}

// Unref relinquishes the caller's own hold on the route: if nothing
// else references it, it is destroyed immediately; otherwise it is
// marked deleted and destroyed when the last other reference is
// released via bumpRefcount. Calling Unref twice is a fatal programming
// error, matching the source's XLOG_FATAL on a repeat unref.
func (r *SubnetRoute[P]) Unref() {
	if r.destroyed || r.meta.flags&FlagDeleted != 0 {
		panic(fmt.Sprintf("route: multiple unref of %s", r.net))
	}
	if r.meta.refcount == 0 {
		r.destroy()
		return
	}
	r.meta.flags |= FlagDeleted
}

// Ref acquires an additional reference to the route (e.g. for an
// iterator or cache entry that wants to outlive its caller's own hold).
// Pair with Unref.
func (r *SubnetRoute[P]) Ref() *SubnetRoute[P] {
	r.checkLive()
	r.bumpRefcount(1)
	return r
}

// Net returns the subnet this route refers to.
func (r *SubnetRoute[P]) Net() prefix.Prefix { return r.net }

// Attributes returns the route's path-attribute list.
func (r *SubnetRoute[P]) Attributes() P { return r.attrs.value }

// Refcount returns the number of other holders referencing this route.
func (r *SubnetRoute[P]) Refcount() uint16 { return r.meta.refcount }

// IsDeleted reports whether the route has been unreffed and is only
// being kept alive by outstanding references.
func (r *SubnetRoute[P]) IsDeleted() bool { return r.meta.flags&FlagDeleted != 0 }

// IGPMetric returns the IGP metric recorded when the route won
// decision; undefined (0xffffffff) if it has not won.
func (r *SubnetRoute[P]) IGPMetric() uint32 { return r.meta.igpMetric }

// AggrPrefixLen and AggrBrief report the route's aggregation marker.
func (r *SubnetRoute[P]) AggrPrefixLen() uint8 { return r.meta.aggrPrefixLen }
func (r *SubnetRoute[P]) AggrBrief() bool      { return r.meta.aggrBrief }

// SetAggr records the route's aggregation marker.
func (r *SubnetRoute[P]) SetAggr(prefixLen uint8, brief bool) {
	r.meta.aggrPrefixLen = prefixLen
	r.meta.aggrBrief = brief
}

// PolicyTags and SetPolicyTags carry the decision layer's policy
// classification tags; this package does not interpret them.
func (r *SubnetRoute[P]) PolicyTags() PolicyTags        { return r.meta.policyTags }
func (r *SubnetRoute[P]) SetPolicyTags(tags PolicyTags) { r.meta.policyTags = tags }

// PolicyFilter and SetPolicyFilter access one of the three per-route
// policy-filter reference slots.
func (r *SubnetRoute[P]) PolicyFilter(i int) PolicyFilterRef { return r.meta.policyFilters[i] }
func (r *SubnetRoute[P]) SetPolicyFilter(i int, ref PolicyFilterRef) {
	r.meta.policyFilters[i] = ref
}

// InUse reports whether the route is at least a decision-process
// contender (not necessarily the winner).
func (r *SubnetRoute[P]) InUse() bool { return r.meta.flags&FlagInUse != 0 }

// SetInUse records in_use, propagating to the parent chain.
func (r *SubnetRoute[P]) SetInUse(used bool) {
	r.setFlag(FlagInUse, used)
	if r.parent != nil {
		r.parent.SetInUse(used)
	}
}

// IsWinner reports whether the route won the decision process.
func (r *SubnetRoute[P]) IsWinner() bool { return r.meta.flags&FlagWinner != 0 }

// SetIsWinner records that the route won decision with the given IGP
// metric, propagating to the parent chain.
func (r *SubnetRoute[P]) SetIsWinner(igpMetric uint32) {
	r.meta.flags |= FlagWinner
	r.meta.igpMetric = igpMetric
	if r.parent != nil {
		r.parent.SetIsWinner(igpMetric)
	}
}

// SetIsNotWinner records that decision did not choose this route,
// propagating to the parent chain.
func (r *SubnetRoute[P]) SetIsNotWinner() {
	r.meta.flags &^= FlagWinner
	if r.parent != nil {
		r.parent.SetIsNotWinner()
	}
}

// NexthopResolved reports whether the route's nexthop resolved when
// passed through the next-hop resolver.
func (r *SubnetRoute[P]) NexthopResolved() bool { return r.meta.flags&FlagNHResolved != 0 }

// SetNexthopResolved records nexthop resolution state, propagating to
// the parent chain.
func (r *SubnetRoute[P]) SetNexthopResolved(resolved bool) {
	r.setFlag(FlagNHResolved, resolved)
	if r.parent != nil {
		r.parent.SetNexthopResolved(resolved)
	}
}

// IsFiltered reports whether the route was filtered out by the inbound
// filter bank; only meaningful for routes stored in a RIB-in table.
func (r *SubnetRoute[P]) IsFiltered() bool { return r.meta.flags&FlagFiltered != 0 }

// SetFiltered records the inbound-filter decision. Unlike the other
// setters this does not propagate: filtering is a property of where
// this particular copy of the route sits, not of its lineage.
func (r *SubnetRoute[P]) SetFiltered(filtered bool) {
	r.setFlag(FlagFiltered, filtered)
}

func (r *SubnetRoute[P]) setFlag(f Flags, on bool) {
	if on {
		r.meta.flags |= f
	} else {
		r.meta.flags &^= f
	}
}

// ParentRoute returns the immediate pre-filter version of this route,
// or nil if this is the original.
func (r *SubnetRoute[P]) ParentRoute() *SubnetRoute[P] { return r.parent }

// OriginalRoute walks the parent chain to the oldest ancestor, or
// returns r itself if it has no parent.
func (r *SubnetRoute[P]) OriginalRoute() *SubnetRoute[P] {
	cur := r
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Equal compares two routes by subnet and attribute-list identity only,
// ignoring metadata: operator== in the source.
func (r *SubnetRoute[P]) Equal(other *SubnetRoute[P]) bool {
	if other == nil {
		return false
	}
	return r.net.Equal(other.net) && r.attrs == other.attrs
}

// String renders a debug summary of the route.
func (r *SubnetRoute[P]) String() string {
	return fmt.Sprintf("%s winner=%v in_use=%v filtered=%v deleted=%v refs=%d",
		r.net, r.IsWinner(), r.InUse(), r.IsFiltered(), r.IsDeleted(), r.meta.refcount)
}
