package search

import "math/bits"

// sipHash24 is SipHash-2-4 keyed by (k0, k1). Kept as a small
// standalone implementation because the filter exchange depends on
// caller-supplied keys traveling with the bitmap, and the ecosystem
// hash packages don't expose a keyed SipHash variant.
func sipHash24(k0, k1 uint64, data []byte) uint64 {
	v0 := k0 ^ 0x736f6d6570736575
	v1 := k1 ^ 0x646f72616e646f6d
	v2 := k0 ^ 0x6c7967656e657261
	v3 := k1 ^ 0x7465646279746573

	round := func() {
		v0 += v1
		v1 = bits.RotateLeft64(v1, 13)
		v1 ^= v0
		v0 = bits.RotateLeft64(v0, 32)
		v2 += v3
		v3 = bits.RotateLeft64(v3, 16)
		v3 ^= v2
		v0 += v3
		v3 = bits.RotateLeft64(v3, 21)
		v3 ^= v0
		v2 += v1
		v1 = bits.RotateLeft64(v1, 17)
		v1 ^= v2
		v2 = bits.RotateLeft64(v2, 32)
	}

	length := len(data)
	end := length - (length % 8)
	var i int
	for i = 0; i < end; i += 8 {
		m := le64(data[i : i+8])
		v3 ^= m
		round()
		round()
		v0 ^= m
	}

	var last uint64 = uint64(length&0xff) << 56
	rem := data[end:]
	for j := len(rem) - 1; j >= 0; j-- {
		last |= uint64(rem[j]) << (8 * uint(j))
	}

	v3 ^= last
	round()
	round()
	v0 ^= last

	v2 ^= 0xff
	round()
	round()
	round()
	round()

	return v0 ^ v1 ^ v2 ^ v3
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
