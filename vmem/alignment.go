package vmem

import "github.com/behnood-eghbali/vmemkit/vmem/kern"

// The kernel's alignment field accepts powers of two from 1 KiB up to
// 4 GiB, encoded as log2 in bits [kern.AlignBase, kern.AlignBase+8).
const (
	minAlignShift = 10 // 1 KiB
	maxAlignShift = 32 // 4 GiB
)

// alignmentFlags encodes a byte alignment into the kernel's alignment
// option field. Returns 0 if alignment is not one of the supported
// powers of two; callers must treat 0 as a fatal misuse rather than
// rounding to a nearby value.
func alignmentFlags(alignment uintptr) kern.VMFlags {
	a := uint64(alignment)
	for shift := minAlignShift; shift <= maxAlignShift; shift++ {
		if a == uint64(1)<<shift {
			return kern.VMFlags(shift) << kern.AlignBase
		}
	}
	return 0
}

// alignmentFromFlags recovers the byte alignment from an encoded
// alignment option, or 0 for the unset/unsupported sentinel.
func alignmentFromFlags(f kern.VMFlags) uint64 {
	shift := f.AlignLog2()
	if shift == 0 {
		return 0
	}
	return uint64(1) << shift
}
