// Package bitbuf provides LSB-first bit-field access into byte slices.
// Shift registers and the SWD response window address individual bits at
// arbitrary offsets, so all helpers take a first-bit index rather than a
// byte index. Bit i lives in buf[i/8] at position i%8.
package bitbuf

import (
	"math/bits"
)

// Get32 extracts count bits (count <= 32) starting at bit first and returns
// them right-aligned.
func Get32(buf []byte, first, count int) uint32 {
	var v uint32
	for i := 0; i < count; i++ {
		bit := first + i
		if buf[bit/8]&(1<<uint(bit%8)) != 0 {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Set32 stores the low count bits (count <= 32) of value starting at bit
// first.
func Set32(buf []byte, first, count int, value uint32) {
	for i := 0; i < count; i++ {
		bit := first + i
		if value&(1<<uint(i)) != 0 {
			buf[bit/8] |= 1 << uint(bit%8)
		} else {
			buf[bit/8] &^= 1 << uint(bit%8)
		}
	}
}

// GetBit returns the bit at index i.
func GetBit(buf []byte, i int) bool {
	return buf[i/8]&(1<<uint(i%8)) != 0
}

// SetBit stores the bit at index i.
func SetBit(buf []byte, i int, v bool) {
	if v {
		buf[i/8] |= 1 << uint(i%8)
	} else {
		buf[i/8] &^= 1 << uint(i%8)
	}
}

// Copy moves count bits from src starting at srcFirst into dst starting at
// dstFirst. Regions must not overlap within the same slice.
func Copy(dst []byte, dstFirst int, src []byte, srcFirst, count int) {
	for i := 0; i < count; i++ {
		SetBit(dst, dstFirst+i, GetBit(src, srcFirst+i))
	}
}

// Bytes returns the number of bytes needed to hold n bits.
func Bytes(n int) int {
	return (n + 7) / 8
}

// Parity32 returns the even parity bit of v: true when v has an odd number
// of set bits, so that appending the bit makes the total even.
func Parity32(v uint32) bool {
	return bits.OnesCount32(v)%2 == 1
}
