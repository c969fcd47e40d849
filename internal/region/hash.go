package region

import (
	"reflect"
	"unsafe"
)

// rol rotates x left by shift bits (teacher's hash.go `rol`).
func rol(x uint64, shift uint) uint64 {
	return (x << shift) | (x >> (64 - shift))
}

// HashTrace hashes a raw per-trial byte trace into a single uint64,
// adapted from the teacher's hashTrBits (hash.go), which in turn is
// AFL's trace-bits hash. trace's length must be a multiple of 8 bytes;
// callers pad/truncate before calling.
func HashTrace(trace []byte) uint64 {
	const (
		hashSeed = 0xa5b35705

		loopMult1  uint64 = 0x87c37b91114253d5
		loopMult2  uint64 = 0x4cf5ad432745937f
		loopAdd           = 0x52dce729
		loopShift1        = 31
		loopShift2        = 27

		endMult1   uint64 = 0xff51afd7ed558ccd
		endMult2   uint64 = 0xc4ceb9fe1a85ec53
		endShift          = 33
		uint64Size        = 8
	)

	header := *(*reflect.SliceHeader)(unsafe.Pointer(&trace))
	header.Len /= uint64Size
	header.Cap /= uint64Size
	data := *(*[]uint64)(unsafe.Pointer(&header))

	hash := uint64(hashSeed) ^ uint64(len(trace))

	for i := range data {
		k := data[i]
		k *= loopMult1
		k = rol(k, loopShift1)
		k *= loopMult2

		hash ^= k
		hash = rol(hash, loopShift2)
		hash = hash*5 + loopAdd
	}

	hash ^= hash >> endShift
	hash *= endMult1
	hash ^= hash >> endShift
	hash *= endMult2
	hash ^= hash >> endShift

	return hash
}
