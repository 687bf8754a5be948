package ppc

import "math/bits"

// BitSet32 is a set of up to 32 register indices.
type BitSet32 uint32

func Bit32(i int) BitSet32 { return BitSet32(1) << uint(i) }

func (s BitSet32) Has(i int) bool { return s&(1<<uint(i)) != 0 }
func (s BitSet32) With(i int) BitSet32 { return s | 1<<uint(i) }
func (s BitSet32) Without(i int) BitSet32 { return s &^ (1 << uint(i)) }
func (s BitSet32) Count() int { return bits.OnesCount32(uint32(s)) }

// Indices lists members in ascending order.
func (s BitSet32) Indices() []int {
	out := make([]int, 0, s.Count())
	for v := uint32(s); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros32(v))
	}
	return out
}

// BitSet8 is a set of GQR indices.
type BitSet8 uint8

func (s BitSet8) Has(i int) bool { return s&(1<<uint(i)) != 0 }
func (s BitSet8) With(i int) BitSet8 { return s | 1<<uint(i) }
func (s BitSet8) Count() int { return bits.OnesCount8(uint8(s)) }
func (s BitSet8) Indices() []int {
	out := make([]int, 0, s.Count())
	for v := uint8(s); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros8(v))
	}
	return out
}
