package prefix

import (
	"bytes"
	"net/netip"
)

// Family identifies the address width a value is drawn from. XORP keeps
// IPv4 and IPv6 as distinct C++ template instantiations (IPv4/IPv6); Go
// generics plus a runtime tag get the same non-interchangeability without
// duplicating the trie code per family.
type Family uint8

const (
	V4 Family = iota
	V6
)

// BitLen returns the fixed address width for the family, 32 or 128.
func (f Family) BitLen() int {
	if f == V4 {
		return 32
	}
	return 128
}

func (f Family) byteLen() int {
	return f.BitLen() / 8
}

func (f Family) String() string {
	if f == V4 {
		return "v4"
	}
	return "v6"
}

// Addr is a fixed-width address (32 bits for V4, 128 for V6) stored as a
// big-endian byte string, the address-value analogue of XORP's IPv4/IPv6
// classes. The zero value is the V4 address 0.0.0.0.
type Addr struct {
	family Family
	bytes  [16]byte // only the first family.byteLen() bytes are significant
}

// AddrFromNetip converts a stdlib netip.Addr into an Addr, preserving
// family. Returns InvalidCast if addr is the zero/invalid netip.Addr.
func AddrFromNetip(addr netip.Addr) (Addr, error) {
	if !addr.IsValid() {
		return Addr{}, newError(InvalidCast, "zero-value netip.Addr")
	}
	var a Addr
	if addr.Is4() {
		a.family = V4
		b := addr.As4()
		copy(a.bytes[:4], b[:])
	} else {
		a.family = V6
		b := addr.As16()
		copy(a.bytes[:16], b[:])
	}
	return a, nil
}

// MustAddrFromNetip is AddrFromNetip for callers holding an already-valid
// netip.Addr (e.g. parsed elsewhere); it panics on an invalid input.
func MustAddrFromNetip(addr netip.Addr) Addr {
	a, err := AddrFromNetip(addr)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAddr parses a dotted-quad or colon-hex address literal.
func ParseAddr(s string) (Addr, error) {
	na, err := netip.ParseAddr(s)
	if err != nil {
		return Addr{}, newError(InvalidString, err.Error())
	}
	return AddrFromNetip(na)
}

// ToNetip converts back to the stdlib representation.
func (a Addr) ToNetip() netip.Addr {
	if a.family == V4 {
		var b [4]byte
		copy(b[:], a.bytes[:4])
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	copy(b[:], a.bytes[:16])
	return netip.AddrFrom16(b)
}

// Family reports the address family.
func (a Addr) Family() Family { return a.family }

// BitLen reports the address width in bits, 32 or 128.
func (a Addr) BitLen() int { return a.family.BitLen() }

// IsZero reports whether this is the unspecified address of its family
// (0.0.0.0 or ::). The zero Addr value is the V4 unspecified address.
func (a Addr) IsZero() bool {
	n := a.family.byteLen()
	for i := 0; i < n; i++ {
		if a.bytes[i] != 0 {
			return false
		}
	}
	return true
}

// Compare returns -1, 0, or 1 ordering a and b as unsigned big-endian
// integers. Panics if the families differ: callers must not mix address
// families, matching XORP's compile-time separation of IPv4Net/IPv6Net.
func (a Addr) Compare(b Addr) int {
	if a.family != b.family {
		panic(newError(InvalidFamily, "Addr.Compare across families"))
	}
	n := a.family.byteLen()
	return bytes.Compare(a.bytes[:n], b.bytes[:n])
}

// Less reports whether a sorts strictly before b.
func (a Addr) Less(b Addr) bool { return a.Compare(b) < 0 }

// Equal reports value equality within the same family.
func (a Addr) Equal(b Addr) bool {
	return a.family == b.family && a.Compare(b) == 0
}

// maskLowZero returns a with its low (BitLen-prefixLen) bits forced to 0,
// the masked_addr() operation from ipnet.hh.
func (a Addr) maskLowZero(prefixLen int) Addr {
	return a.setLowBits(a.BitLen()-prefixLen, 0)
}

// maskLowOnes returns a with its low (BitLen-prefixLen) bits forced to 1,
// used to compute top_addr(): masked_addr | ~netmask().
func (a Addr) maskLowOnes(prefixLen int) Addr {
	return a.setLowBits(a.BitLen()-prefixLen, 1)
}

// setLowBits returns a with its lowest lowBits bits forced to bit (0 or 1).
func (a Addr) setLowBits(lowBits int, bit byte) Addr {
	out := a
	if lowBits <= 0 {
		return out
	}
	byteLen := a.family.byteLen()
	full := lowBits / 8
	rem := lowBits % 8
	var fill byte
	if bit != 0 {
		fill = 0xff
	}
	for i := 0; i < full; i++ {
		out.bytes[byteLen-1-i] = fill
	}
	if rem > 0 {
		mask := byte(1<<uint(rem)) - 1 // low rem bits
		idx := byteLen - 1 - full
		if bit != 0 {
			out.bytes[idx] |= mask
		} else {
			out.bytes[idx] &^= mask
		}
	}
	return out
}

// addPow2 adds 2^bitPos (bitPos counted from the LSB, 0-based) to a,
// confined to the address width; bits beyond the MSB are discarded
// (matching the shift-increment-shift idiom in IPNet::operator++, which
// truncates to prefix_len bits before shifting back).
func (a Addr) addPow2(bitPos int) Addr {
	out := a
	byteLen := a.family.byteLen()
	if bitPos >= byteLen*8 {
		return out
	}
	byteIdx := byteLen - 1 - bitPos/8
	carry := uint16(1) << uint(bitPos%8)
	for i := byteIdx; i >= 0; i-- {
		sum := uint16(out.bytes[i]) + carry
		out.bytes[i] = byte(sum)
		if sum <= 0xff {
			break
		}
		carry = 1
	}
	return out
}

// subPow2 subtracts 2^bitPos from a, with the same width-truncating
// semantics as addPow2.
func (a Addr) subPow2(bitPos int) Addr {
	out := a
	byteLen := a.family.byteLen()
	if bitPos >= byteLen*8 {
		return out
	}
	byteIdx := byteLen - 1 - bitPos/8
	borrow := uint16(1) << uint(bitPos%8)
	for i := byteIdx; i >= 0; i-- {
		if uint16(out.bytes[i]) >= borrow {
			out.bytes[i] -= byte(borrow)
			borrow = 0
			break
		}
		out.bytes[i] = byte(uint16(out.bytes[i]) + 0x100 - borrow)
		borrow = 1
	}
	return out
}

// String renders the address in its family's canonical text form.
func (a Addr) String() string {
	return a.ToNetip().String()
}

// ZeroAddr returns the unspecified (all-zero) address of the given family.
func ZeroAddr(f Family) Addr {
	return Addr{family: f}
}

// Inc returns a+1, wrapping at the address width.
func (a Addr) Inc() Addr { return a.addPow2(0) }

// Dec returns a-1, wrapping at the address width.
func (a Addr) Dec() Addr { return a.subPow2(0) }
