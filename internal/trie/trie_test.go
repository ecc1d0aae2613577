package trie

import (
	"testing"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
)

func mustPrefix(t *testing.T, s string) prefix.Prefix {
	t.Helper()
	p, err := prefix.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func mustAddr(t *testing.T, s string) prefix.Addr {
	t.Helper()
	a, err := prefix.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

// TestSeedScenario1 reproduces spec seed scenario 1: a sequence of
// inserts followed by an erase, checked against find() results.
func TestSeedScenario1(t *testing.T) {
	tr := New[string](prefix.V4)
	tr.Insert(mustPrefix(t, "1.2.1.0/24"), "1.2.1.0/24")
	tr.Insert(mustPrefix(t, "1.2.0.0/16"), "1.2.0.0/16")
	tr.Insert(mustPrefix(t, "1.2.3.0/24"), "1.2.3.0/24")
	tr.Insert(mustPrefix(t, "1.2.128.0/24"), "1.2.128.0/24")
	tr.Insert(mustPrefix(t, "1.2.0.0/20"), "1.2.0.0/20")
	tr.Validate()

	cases := []struct {
		addr string
		want string
	}{
		{"1.2.1.5", "1.2.1.0/24"},
		{"1.2.2.5", "1.2.0.0/20"},
		{"1.2.129.0", "1.2.128.0/24"},
	}
	for _, c := range cases {
		got, ok := tr.FindAddr(mustAddr(t, c.addr))
		if !ok {
			t.Errorf("find(%s): no match, want %s", c.addr, c.want)
			continue
		}
		if got != c.want {
			t.Errorf("find(%s) = %s, want %s", c.addr, got, c.want)
		}
	}

	tr.Erase(mustPrefix(t, "1.2.0.0/20"))
	tr.Validate()
	got, ok := tr.FindAddr(mustAddr(t, "1.2.2.5"))
	if !ok || got != "1.2.0.0/16" {
		t.Errorf("after erase, find(1.2.2.5) = (%s, %v), want 1.2.0.0/16", got, ok)
	}
}

// TestSeedScenario2 reproduces spec seed scenario 2: find_bounds across a
// trie with three routes, then after an erase.
func TestSeedScenario2(t *testing.T) {
	tr := New[string](prefix.V4)
	tr.Insert(mustPrefix(t, "1.2.0.0/16"), "a")
	tr.Insert(mustPrefix(t, "1.2.128.0/24"), "b")
	tr.Insert(mustPrefix(t, "1.2.192.0/24"), "c")
	tr.Validate()

	checkBounds := func(addr, wantLo, wantHi string) {
		t.Helper()
		lo, hi := tr.FindBounds(mustAddr(t, addr))
		if lo.String() != wantLo || hi.String() != wantHi {
			t.Errorf("find_bounds(%s) = (%s, %s), want (%s, %s)", addr, lo, hi, wantLo, wantHi)
		}
	}

	checkBounds("1.2.190.1", "1.2.129.0", "1.2.191.255")
	checkBounds("1.2.192.1", "1.2.192.0", "1.2.192.255")

	tr.Erase(mustPrefix(t, "1.2.128.0/24"))
	tr.Validate()
	checkBounds("1.2.128.1", "1.2.0.0", "1.2.191.255")
}

func TestInsertReplaceReturnsReplaced(t *testing.T) {
	tr := New[int](prefix.V4)
	p := mustPrefix(t, "10.0.0.0/8")
	if replaced := tr.Insert(p, 1); replaced {
		t.Errorf("first insert should not report replaced")
	}
	if replaced := tr.Insert(p, 2); !replaced {
		t.Errorf("second insert of same key should report replaced")
	}
	v, ok := tr.Find(p)
	if !ok || v != 2 {
		t.Errorf("Find after replace = (%d, %v), want (2, true)", v, ok)
	}
	if tr.Count() != 1 {
		t.Errorf("Count() = %d, want 1", tr.Count())
	}
}

func TestEraseNonExistentIsNoop(t *testing.T) {
	tr := New[int](prefix.V4)
	tr.Insert(mustPrefix(t, "10.0.0.0/8"), 1)
	tr.Erase(mustPrefix(t, "192.168.0.0/16")) // not present at all
	tr.Erase(mustPrefix(t, "10.0.0.0/16"))    // covered by, but not equal to, 10.0.0.0/8
	if tr.Count() != 1 {
		t.Errorf("Count() after no-op erases = %d, want 1", tr.Count())
	}
	v, ok := tr.Find(mustPrefix(t, "10.1.2.3/32"))
	if !ok || v != 1 {
		t.Errorf("route should be unaffected by no-op erases")
	}
}

// TestInsertEraseRestoresIterationOrder checks the round-trip law:
// insert(k,v); erase(k) restores prior iteration order.
func TestInsertEraseRestoresIterationOrder(t *testing.T) {
	tr := New[string](prefix.V4)
	seed := []string{"10.0.0.0/8", "10.1.0.0/16", "10.2.0.0/16", "192.168.0.0/16"}
	for _, s := range seed {
		tr.Insert(mustPrefix(t, s), s)
	}
	before := collect(tr)

	extra := mustPrefix(t, "172.16.0.0/12")
	tr.Insert(extra, "172.16.0.0/12")
	tr.Erase(extra)
	tr.Validate()

	after := collect(tr)
	if len(before) != len(after) {
		t.Fatalf("iteration length changed: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("iteration order differs at %d: %s vs %s", i, before[i], after[i])
		}
	}
}

func collect(tr *Trie[string]) []string {
	var out []string
	for it := tr.Begin(); !it.Done(); it = it.Next() {
		out = append(out, it.Value())
	}
	return out
}

func TestFindSubtree(t *testing.T) {
	tr := New[int](prefix.V4)
	tr.Insert(mustPrefix(t, "10.1.0.0/16"), 1)
	tr.Insert(mustPrefix(t, "10.2.0.0/16"), 2)

	query := mustPrefix(t, "10.0.0.0/8")
	sub, ok := tr.FindSubtree(query)
	if !ok {
		t.Fatal("expected a subtree")
	}
	if !query.Contains(sub) {
		t.Errorf("subtree root %s should be contained in the query %s", sub, query)
	}

	var got []int
	for it := tr.SearchSubtree(query); !it.Done(); it = it.Next() {
		got = append(got, it.Value())
	}
	if len(got) != 2 {
		t.Errorf("SearchSubtree(%s) visited %d nodes, want 2", query, len(got))
	}

	_, ok = tr.FindSubtree(mustPrefix(t, "192.168.0.0/16"))
	if ok {
		t.Errorf("FindSubtree outside the trie's range should find nothing")
	}
}

func TestLowerBound(t *testing.T) {
	tr := New[string](prefix.V4)
	tr.Insert(mustPrefix(t, "10.0.0.0/8"), "a")
	tr.Insert(mustPrefix(t, "10.1.0.0/16"), "b")
	tr.Insert(mustPrefix(t, "10.2.0.0/16"), "c")

	// 10.1.0.0/16 contains the query, so in the containment-biased order
	// it is >= the query and nothing smaller also qualifies: it is the
	// answer, even though 10.2.0.0/16 is a "later" address.
	k, v, ok := tr.LowerBound(mustPrefix(t, "10.1.128.0/24"))
	if !ok {
		t.Fatal("expected a lower bound match")
	}
	if v != "b" {
		t.Errorf("LowerBound(10.1.128.0/24) = (%s, %s), want b", k, v)
	}

	// A query disjoint from (not contained by, and not containing) every
	// existing key falls back to plain address order.
	tr2 := New[string](prefix.V4)
	tr2.Insert(mustPrefix(t, "10.1.0.0/16"), "x")
	tr2.Insert(mustPrefix(t, "10.2.0.0/16"), "y")
	tr2.Insert(mustPrefix(t, "10.4.0.0/16"), "z")
	k2, v2, ok2 := tr2.LowerBound(mustPrefix(t, "10.3.0.0/16"))
	if !ok2 || v2 != "z" {
		t.Errorf("LowerBound(10.3.0.0/16) = (%s, %s), want z", k2, v2)
	}
}

func TestEmptyTrieOperations(t *testing.T) {
	tr := New[int](prefix.V6)
	if _, ok := tr.Find(mustPrefix(t, "::1/128")); ok {
		t.Errorf("Find on empty trie should miss")
	}
	lo, hi := tr.FindBounds(mustAddr(t, "::1"))
	if lo.String() != "::" {
		t.Errorf("FindBounds on empty trie: lo = %s, want ::", lo)
	}
	if hi.String() != "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff" {
		t.Errorf("FindBounds on empty trie: hi = %s, want ffff:...", hi)
	}
	tr.Validate() // must not panic on a nil root
}
