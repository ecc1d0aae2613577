package prefix

import "fmt"

// Prefix is a canonically-masked (base, len) pair: base has its low
// (W-len) bits forced to zero, the invariant ipnet.hh enforces by
// constructing _masked_addr from A::mask_by_prefix_len. Prefix is the Go
// counterpart of IPNet<A>.
type Prefix struct {
	base Addr
	len  int
}

// NewPrefix builds a Prefix from a base address and length, masking base
// down to its canonical form. Returns InvalidNetmaskLength if len is out
// of range for base's family.
func NewPrefix(base Addr, length int) (Prefix, error) {
	if length < 0 || length > base.BitLen() {
		return Prefix{}, newError(InvalidNetmaskLength,
			fmt.Sprintf("length %d out of range for %s", length, base.Family()))
	}
	return Prefix{base: base.maskLowZero(length), len: length}, nil
}

// MustNewPrefix is NewPrefix for call sites with a statically-known-valid
// length; it panics on error.
func MustNewPrefix(base Addr, length int) Prefix {
	p, err := NewPrefix(base, length)
	if err != nil {
		panic(err)
	}
	return p
}

// HostPrefix returns the /W prefix naming exactly addr, used where the
// trie is addressed with a bare Addr (PrefixTrie.find(address) in the
// spec, Trie<A,P>::find(const A&) in trie.hh).
func HostPrefix(addr Addr) Prefix {
	return Prefix{base: addr, len: addr.BitLen()}
}

// ParsePrefix parses a CIDR literal such as "10.0.0.0/8" or "2001:db8::/32".
func ParsePrefix(s string) (Prefix, error) {
	slash := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			slash = i
			break
		}
	}
	if slash < 0 {
		return Prefix{}, newError(InvalidString, "missing slash: "+s)
	}
	addrPart, lenPart := s[:slash], s[slash+1:]
	base, err := ParseAddr(addrPart)
	if err != nil {
		return Prefix{}, err
	}
	n := 0
	if lenPart == "" {
		return Prefix{}, newError(InvalidString, "missing prefix length: "+s)
	}
	for _, c := range lenPart {
		if c < '0' || c > '9' {
			return Prefix{}, newError(InvalidString, "bad prefix length: "+s)
		}
		n = n*10 + int(c-'0')
	}
	return NewPrefix(base, n)
}

// Base returns the canonically-masked base address.
func (p Prefix) Base() Addr { return p.base }

// Len returns the prefix length in bits.
func (p Prefix) Len() int { return p.len }

// Family returns the address family of the prefix.
func (p Prefix) Family() Family { return p.base.Family() }

// IsValid reports whether p stores a "real" (non-default) value, mirroring
// IPNet::is_valid(): the zero Prefix{} (family V4, length 0) is the
// default/unset sentinel used throughout the trie code before a node
// acquires a real key.
func (p Prefix) IsValid() bool { return p.len != 0 }

// TopAddr returns the highest address in the range, masked_addr() |
// ~netmask() in ipnet.hh.
func (p Prefix) TopAddr() Addr { return p.base.maskLowOnes(p.len) }

// Midpoint returns the top address of p's left half — the x_m/y_m
// quantity in TrieNode::insert's case analysis (masked_addr() |
// (~netmask() >> 1)), used to tell whether a shorter prefix's range falls
// entirely in a longer prefix's low or high half.
func (p Prefix) Midpoint() Addr {
	lowBits := p.base.BitLen() - p.len
	if lowBits == 0 {
		return p.base
	}
	return p.base.setLowBits(lowBits-1, 1)
}

func (p Prefix) requireSameFamily(other Prefix) {
	if p.Family() != other.Family() {
		panic(newError(InvalidFamily, "Prefix operation across families"))
	}
}

// Contains reports whether p contains (or equals) other: x.contains(y)
// is x ⊇ y.
func (p Prefix) Contains(other Prefix) bool {
	p.requireSameFamily(other)
	if p.len > other.len {
		return false
	}
	return other.base.maskLowZero(p.len).Equal(p.base)
}

// ContainsAddr reports whether addr falls within p's range.
func (p Prefix) ContainsAddr(addr Addr) bool {
	p.requireSameFamily(HostPrefix(addr))
	return addr.maskLowZero(p.len).Equal(p.base)
}

// Overlaps reports whether p and other share any address.
func (p Prefix) Overlaps(other Prefix) bool {
	p.requireSameFamily(other)
	if p.len > other.len {
		return p.base.maskLowZero(other.len).Equal(other.base)
	}
	if p.len < other.len {
		return other.base.maskLowZero(p.len).Equal(p.base)
	}
	return p.base.Equal(other.base)
}

// Overlap is ipnet.hh's overlap(): the number of leading bits p and
// other share, bounded by the shorter of the two prefix lengths. Unlike
// Overlaps (is_overlap() in the source), which only answers whether the
// two ranges intersect at all, Overlap returns the actual shared bit
// count — e.g. 12.34.0.0/16.Overlap(12.35.0.0/16) == 15,
// 12.34.0.0/16.Overlap(12.34.56.0/24) == 16.
func (p Prefix) Overlap(other Prefix) int {
	p.requireSameFamily(other)
	limit := p.len
	if other.len < limit {
		limit = other.len
	}
	return commonPrefixBits(p.base, other.base, limit)
}

// commonPrefixBits returns the number of leading bits a and b share, up
// to limit (the overlap() helper in ipnet.cc: XOR then count leading
// zero bits, bounded by min(prefix_len)).
func commonPrefixBits(a, b Addr, limit int) int {
	byteLen := a.Family().byteLen()
	n := 0
	for i := 0; i < byteLen && n < limit; i++ {
		diff := a.bytes[i] ^ b.bytes[i]
		if diff == 0 {
			n += 8
			continue
		}
		for bit := 7; bit >= 0 && n < limit; bit-- {
			if diff&(1<<uint(bit)) != 0 {
				return n
			}
			n++
		}
		return n
	}
	if n > limit {
		return limit
	}
	return n
}

// CommonSubnet returns the smallest prefix containing both x and y:
// IPNet(x.masked_addr(), x.overlap(y)) in ipnet.hh.
func CommonSubnet(x, y Prefix) Prefix {
	return MustNewPrefix(x.base, x.Overlap(y))
}

// Equal reports value equality (same base, same length).
func (p Prefix) Equal(other Prefix) bool {
	return p.Family() == other.Family() && p.len == other.len && p.base.Equal(other.base)
}

// Compare implements the containment-biased strict total order from
// IPNet::operator<: a container sorts after (is ">=") everything it
// contains; otherwise ties break on masked base address. Returns -1, 0,
// or 1.
func (p Prefix) Compare(other Prefix) int {
	p.requireSameFamily(other)
	if p.Equal(other) {
		return 0
	}
	if p.Contains(other) {
		return 1 // p >= other, and they are not equal, so p > other
	}
	if other.Contains(p) {
		return -1
	}
	return p.base.Compare(other.base)
}

// Less reports whether p sorts strictly before other in the containment-
// biased order.
func (p Prefix) Less(other Prefix) bool { return p.Compare(other) < 0 }

// Next returns the next prefix of the same length along the number line,
// i.e. base + 2^(W-len), truncated to the address width. This is
// IPNet::operator++: shift right by (W-len), increment, shift back left.
func (p Prefix) Next() Prefix {
	step := p.base.BitLen() - p.len
	return Prefix{base: p.base.addPow2(step), len: p.len}
}

// Prev returns the preceding prefix of the same length, IPNet::operator--.
func (p Prefix) Prev() Prefix {
	step := p.base.BitLen() - p.len
	return Prefix{base: p.base.subPow2(step), len: p.len}
}

// String renders the prefix in CIDR notation.
func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.base.String(), p.len)
}
