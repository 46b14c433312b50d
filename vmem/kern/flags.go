package kern

// VMFlags carries the option bits accepted by Region.Map and
// Region.Allocate: protection bits for the new mapping, capability bits
// for a new child region, placement control, and an alignment field.
type VMFlags uint32

const (
	// PermRead, PermWrite and PermExecute select the access protection
	// of a mapping. A mapping with none of them set is inaccessible.
	PermRead    VMFlags = 1 << 0
	PermWrite   VMFlags = 1 << 1
	PermExecute VMFlags = 1 << 2

	// Specific requests placement at the exact region offset passed to
	// Map or Allocate. Without it the kernel picks a free range.
	Specific VMFlags = 1 << 4

	// CanMap* bound what may later be mapped inside a child region.
	// A Map call whose protection bits exceed the region's capability
	// bits fails with ErrAccessDenied.
	CanMapSpecific VMFlags = 1 << 6
	CanMapRead     VMFlags = 1 << 7
	CanMapWrite    VMFlags = 1 << 8
	CanMapExecute  VMFlags = 1 << 9
)

const (
	// AlignBase is the bit position of the alignment field. Bits
	// [AlignBase, AlignBase+8) hold log2 of the requested alignment;
	// zero means the kernel's default page alignment.
	AlignBase = 24

	// AlignMask isolates the alignment field.
	AlignMask VMFlags = 0xff << AlignBase
)

const permMask = PermRead | PermWrite | PermExecute

// Perm returns only the protection bits of f.
func (f VMFlags) Perm() VMFlags { return f & permMask }

// AlignLog2 returns the log2 alignment encoded in f, or 0 if the field
// is unset.
func (f VMFlags) AlignLog2() uint { return uint(f>>AlignBase) & 0xff }

// Alignment returns the byte alignment encoded in f, or 0 if the field
// is unset.
func (f VMFlags) Alignment() uintptr {
	l := f.AlignLog2()
	if l == 0 {
		return 0
	}
	return uintptr(1) << l
}
