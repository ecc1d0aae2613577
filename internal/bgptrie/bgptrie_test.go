package bgptrie

import (
	"testing"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/route-beacon/xorp-routecore/internal/route"
)

type attrs struct {
	nexthop string
}

func mustPrefix(t *testing.T, s string) prefix.Prefix {
	t.Helper()
	p, err := prefix.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func TestInsertChainsSameAttributeRoutes(t *testing.T) {
	mgr := route.NewAttributeManager[attrs]()
	bt := New[attrs](prefix.V4)

	shared := attrs{nexthop: "10.0.0.1"}
	r1 := route.New(mgr, mustPrefix(t, "1.0.0.0/24"), shared, nil)
	r2 := route.New(mgr, mustPrefix(t, "2.0.0.0/24"), shared, nil)
	r3 := route.New(mgr, mustPrefix(t, "3.0.0.0/24"), attrs{nexthop: "10.0.0.2"}, nil)

	bt.Insert(r1.Net(), r1)
	bt.Insert(r2.Net(), r2)
	bt.Insert(r3.Net(), r3)

	if bt.PathmapLen() != 2 {
		t.Fatalf("PathmapLen() = %d, want 2 distinct attribute-list chains", bt.PathmapLen())
	}

	rep, ok := bt.Chain(shared)
	if !ok {
		t.Fatal("expected a chain for the shared attribute list")
	}
	// The ring should have exactly two distinct members.
	seen := map[prefix.Prefix]bool{rep.Net(): true}
	for cur := rep.Next(); cur != rep; cur = cur.Next() {
		seen[cur.Net()] = true
		if len(seen) > 2 {
			t.Fatal("ring has more than two members or fails to close")
		}
	}
	if len(seen) != 2 {
		t.Errorf("ring has %d members, want 2", len(seen))
	}
	if rep.Next().Next() != rep {
		t.Errorf("ring of two should close after two steps")
	}
}

func TestEraseUnchainsAndShrinksPathmap(t *testing.T) {
	mgr := route.NewAttributeManager[attrs]()
	bt := New[attrs](prefix.V4)

	shared := attrs{nexthop: "10.0.0.1"}
	r1 := route.New(mgr, mustPrefix(t, "1.0.0.0/24"), shared, nil)
	r2 := route.New(mgr, mustPrefix(t, "2.0.0.0/24"), shared, nil)
	bt.Insert(r1.Net(), r1)
	bt.Insert(r2.Net(), r2)

	bt.Erase(r1.Net())
	bt.Validate()

	rep, ok := bt.Chain(shared)
	if !ok {
		t.Fatal("chain should still exist with r2 remaining")
	}
	if rep.Next() != rep {
		t.Errorf("remaining chain should be a singleton ring after erasing r1")
	}

	bt.Erase(r2.Net())
	bt.Validate()
	if _, ok := bt.Chain(shared); ok {
		t.Errorf("pathmap entry should be dropped once the chain is empty")
	}
	if mgr.Count() != 0 {
		t.Errorf("attribute manager should have released the shared list, Count() = %d", mgr.Count())
	}
}

func TestInsertReplaceUnchainsOldRoute(t *testing.T) {
	mgr := route.NewAttributeManager[attrs]()
	bt := New[attrs](prefix.V4)
	net := mustPrefix(t, "1.0.0.0/24")

	a := attrs{nexthop: "10.0.0.1"}
	b := attrs{nexthop: "10.0.0.2"}
	old := route.New(mgr, net, a, nil)
	bt.Insert(net, old)

	replacement := route.New(mgr, net, b, nil)
	bt.Insert(net, replacement)

	if _, ok := bt.Chain(a); ok {
		t.Errorf("old attribute list's chain should be gone after replace")
	}
	got, ok := bt.FindExact(net)
	if !ok || got.Attributes() != b {
		t.Errorf("FindExact after replace should return the new route")
	}
}

func TestDeleteAllNodesReleasesEverything(t *testing.T) {
	mgr := route.NewAttributeManager[attrs]()
	bt := New[attrs](prefix.V4)

	shared := attrs{nexthop: "10.0.0.1"}
	r1 := route.New(mgr, mustPrefix(t, "1.0.0.0/24"), shared, nil)
	r2 := route.New(mgr, mustPrefix(t, "2.0.0.0/24"), shared, nil)
	bt.Insert(r1.Net(), r1)
	bt.Insert(r2.Net(), r2)

	bt.DeleteAllNodes()

	if bt.Count() != 0 || bt.PathmapLen() != 0 {
		t.Errorf("DeleteAllNodes should empty both the trie and the pathmap")
	}
	if mgr.Count() != 0 {
		t.Errorf("DeleteAllNodes should release all interned attribute lists, Count() = %d", mgr.Count())
	}
}

// TestDeleteAllNodesPreservesOnDestroyHook guards against DeleteAllNodes
// rebuilding the underlying reftrie without rewiring the onDestroy
// unref hook: if the rebuilt trie silently drops it, routes inserted
// after a DeleteAllNodes call stop releasing their interned attribute
// lists on Erase, leaking AttributeManager refcounts forever.
func TestDeleteAllNodesPreservesOnDestroyHook(t *testing.T) {
	mgr := route.NewAttributeManager[attrs]()
	bt := New[attrs](prefix.V4)

	shared := attrs{nexthop: "10.0.0.1"}
	r1 := route.New(mgr, mustPrefix(t, "1.0.0.0/24"), shared, nil)
	bt.Insert(r1.Net(), r1)
	bt.DeleteAllNodes()

	again := attrs{nexthop: "10.0.0.9"}
	r2 := route.New(mgr, mustPrefix(t, "3.0.0.0/24"), again, nil)
	bt.Insert(r2.Net(), r2)
	bt.Erase(r2.Net())

	if mgr.Count() != 0 {
		t.Errorf("insert/erase after DeleteAllNodes leaked attribute refs, mgr.Count() = %d, want 0", mgr.Count())
	}
}

func TestFindLongestPrefixMatch(t *testing.T) {
	mgr := route.NewAttributeManager[attrs]()
	bt := New[attrs](prefix.V4)
	r := route.New(mgr, mustPrefix(t, "10.0.0.0/8"), attrs{nexthop: "10.0.0.1"}, nil)
	bt.Insert(r.Net(), r)

	got, ok := bt.FindAddr(mustPrefix(t, "10.1.2.3/32").Base())
	if !ok || !got.Net().Equal(r.Net()) {
		t.Errorf("FindAddr should longest-prefix-match into 10.0.0.0/8")
	}
}
