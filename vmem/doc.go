// Package vmem is a virtual-memory provider for capability-based
// kernels whose native primitives are nested address-space regions and
// page-backed memory objects.
//
// # Overview
//
// The provider turns an (address hint, size, alignment, permission)
// tuple into kernel option bits and a single mapping or region-creation
// call, hiding the kernel's flag encoding, alignment field and
// hint-fallback behavior behind a small permission- and
// placement-oriented API:
//
//   - Allocate / Free / Release map and unmap pages
//   - SetPermissions / DiscardSystemPages / DecommitPages adjust and
//     decommit existing mappings
//   - CreateAddressSpaceReservation carves uncommitted child regions
//     that can be subdivided and independently mapped later
//
// # Placement
//
// A non-zero address hint makes placement best-effort: the provider
// requests the exact spot and, if the kernel reports a collision,
// retries exactly once letting the kernel pick any free range that
// satisfies the alignment. Operations inside a reservation always use
// fixed placement: the caller is subdividing space it already owns, so
// a collision is a hard failure, never a silent relocation.
//
// # Usage Example
//
//	p, err := vmem.New(k)
//	if err != nil {
//	    return err
//	}
//
//	addr, err := p.Allocate(0, 1<<20, 1<<16, vmem.ReadWrite)
//	if err != nil {
//	    return err
//	}
//	defer p.Free(addr, 1<<20)
//
// # Contract violations vs. resource failures
//
// Misaligned addresses, sizes or alignments, hints below the region
// base, unsupported alignment values and out-of-bounds reservation
// sub-ranges are programming errors and panic. Kernel rejections
// (address space or memory exhaustion, placement collisions under
// fixed mode, destroying a populated reservation) are ordinary errors
// the caller is expected to handle.
//
// # Thread Safety
//
// The provider holds no locks; each (region, address range) pair must
// be coordinated by the caller. Concurrent operations on overlapping
// ranges have kernel-defined outcomes.
package vmem
