// Package nexthop caches next-hop resolvability and IGP-metric answers
// from an external RIB, deduplicating concurrent queries for the same
// next hop and notifying a decision sink when the RIB invalidates a
// previously resolved answer, ported from
// original_source/tags/RELEASE_0_4/xorp/bgp/next_hop_resolver.hh.
package nexthop

import (
	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/route-beacon/xorp-routecore/internal/reftrie"
)

// Entry is NextHopEntry: one RIB answer, potentially shared by several
// next-hop addresses that all fall within the same covering range the
// RIB returned. refs counts registrations per next-hop address, not
// distinct requesters — a next hop registered twice needs two
// deregisters before it drops out of the entry.
type Entry struct {
	baseAddr      prefix.Addr
	prefixLen     int
	realPrefixLen int
	resolvable    bool
	metric        uint32
	refs          map[prefix.Addr]int
}

func newEntry(base prefix.Addr, prefixLen, realPrefixLen int, resolvable bool, metric uint32) *Entry {
	return &Entry{
		baseAddr:      base,
		prefixLen:     prefixLen,
		realPrefixLen: realPrefixLen,
		resolvable:    resolvable,
		metric:        metric,
		refs:          make(map[prefix.Addr]int),
	}
}

func (e *Entry) coveringPrefix() prefix.Prefix {
	return prefix.MustNewPrefix(e.baseAddr, e.prefixLen)
}

func (e *Entry) realPrefix() prefix.Prefix {
	return prefix.MustNewPrefix(e.baseAddr, e.realPrefixLen)
}

func (e *Entry) totalRefs() int {
	n := 0
	for _, c := range e.refs {
		n += c
	}
	return n
}

// Resolvable and Metric expose the RIB's last answer for this entry, for
// callers that already hold an *Entry from Cache.find.
func (e *Entry) Resolvable() bool { return e.resolvable }
func (e *Entry) Metric() uint32   { return e.metric }

// cache is NextHopCache<A>: the dual-trie index from next_hop_resolver.hh
// — one trie keyed on the RIB's covering range for forward lookups by
// next-hop address, one keyed on the RIB's actual matched-route prefix
// so a RIB upcall (which only knows the real route) can find every entry
// it affects. Both tries are kept in sync by addEntry/removeEntry.
type cache struct {
	byPrefix     *reftrie.Trie[*Entry]
	byRealPrefix *reftrie.Trie[map[*Entry]struct{}]
}

func newCache(family prefix.Family) *cache {
	return &cache{
		byPrefix:     reftrie.New[*Entry](family),
		byRealPrefix: reftrie.New[map[*Entry]struct{}](family),
	}
}

// find returns the entry whose covering range contains nexthop, if any.
func (c *cache) find(nexthop prefix.Addr) (*Entry, bool) {
	return c.byPrefix.FindAddr(nexthop)
}

// addEntry installs e into both tries. Several distinct covering-range
// entries can share one real-prefix bucket (the RIB re-answering a query
// for the same underlying route with a different covering range), so the
// real-prefix trie's payload is a set.
func (c *cache) addEntry(e *Entry) {
	ref, _ := c.byPrefix.Insert(e.coveringPrefix(), e)
	ref.Release()

	rp := e.realPrefix()
	set, ok := c.byRealPrefix.FindExact(rp)
	if !ok {
		set = make(map[*Entry]struct{})
	}
	set[e] = struct{}{}
	ref2, _ := c.byRealPrefix.Insert(rp, set)
	ref2.Release()
}

// removeEntry drops e from both tries, removing the real-prefix bucket
// entirely once it is empty.
func (c *cache) removeEntry(e *Entry) {
	c.byPrefix.Erase(e.coveringPrefix())

	rp := e.realPrefix()
	set, ok := c.byRealPrefix.FindExact(rp)
	if !ok {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		c.byRealPrefix.Erase(rp)
		return
	}
	ref, _ := c.byRealPrefix.Insert(rp, set)
	ref.Release()
}

// findByCoveringPrefix returns the entry installed at exactly
// addr/prefixLen, used by rib_client_route_info_invalid, which
// identifies the entry to invalidate by its covering range rather than
// by a specific next-hop address.
func (c *cache) findByCoveringPrefix(addr prefix.Addr, prefixLen int) (*Entry, bool) {
	return c.byPrefix.FindExact(prefix.MustNewPrefix(addr, prefixLen))
}

// entriesByRealPrefix returns every entry the RIB's matched-route
// (addr/realPrefixLen) answers for, used by rib_client_route_info_changed
// to fan a single RIB upcall out to every covering-range entry it backs.
func (c *cache) entriesByRealPrefix(addr prefix.Addr, realPrefixLen int) (map[*Entry]struct{}, bool) {
	rp := prefix.MustNewPrefix(addr, realPrefixLen)
	return c.byRealPrefix.FindExact(rp)
}
