package vmem

import (
	"fmt"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// AddressSpaceReservation is an uncommitted slice of address space
// reserved from a parent region. It exclusively owns its native region
// handle: the holder must release it exactly once, via
// FreeAddressSpaceReservation or FreeSubReservation, and must not
// outlive the parent region it was carved from.
type AddressSpaceReservation struct {
	p      *Provider
	region kern.Region
	base   uintptr
	size   uintptr

	// released flips when the native region is destroyed. Operations
	// on a released reservation return ErrReleased instead of
	// executing against a stale kernel handle.
	released bool
}

// Base returns the reservation's first address.
func (r *AddressSpaceReservation) Base() uintptr { return r.base }

// Size returns the reservation's length in bytes.
func (r *AddressSpaceReservation) Size() uintptr { return r.size }

// Contains reports whether [addr, addr+size) lies fully inside the
// reservation.
func (r *AddressSpaceReservation) Contains(addr, size uintptr) bool {
	return addr >= r.base && addr+size <= r.base+r.size
}

// checkLive panics on out-of-bounds sub-ranges (caller contract
// violation) and reports released reservations as an error.
func (r *AddressSpaceReservation) checkLive(addr, size uintptr) error {
	if !r.Contains(addr, size) {
		panic("vmem: range not contained in reservation")
	}
	if r.released {
		return ErrReleased
	}
	return nil
}

// CreateSubReservation carves a disjoint child reservation out of r.
// Placement is always fixed: the caller is subdividing space it
// already owns, so the carve lands exactly at addr or fails (for
// example when it overlaps a previously carved range).
func (r *AddressSpaceReservation) CreateSubReservation(addr, size uintptr, maxPermission Permission) (*AddressSpaceReservation, error) {
	if err := r.checkLive(addr, size); err != nil {
		return nil, err
	}
	sub, err := r.p.createReservationIn(r.region, r.base, addr, PlacementFixed, size, r.p.pageSize, maxPermission)
	if err != nil {
		return nil, err
	}
	if sub.base != addr {
		panic(fmt.Sprintf("vmem: fixed carve landed at %#x, want %#x", sub.base, addr))
	}
	return sub, nil
}

// FreeSubReservation releases a child reservation carved from r.
func (r *AddressSpaceReservation) FreeSubReservation(sub *AddressSpaceReservation) error {
	return r.p.FreeAddressSpaceReservation(sub)
}

// Allocate maps size bytes at exactly addr inside the reservation.
// The kernel is expected to honor fixed placement exactly; a mismatch
// is a programming error, not a recoverable failure.
func (r *AddressSpaceReservation) Allocate(addr, size uintptr, perm Permission) error {
	if err := r.checkLive(addr, size); err != nil {
		return err
	}
	got, err := r.p.allocateIn(r.region, r.base, addr, PlacementFixed, size, r.p.pageSize, perm)
	if err != nil {
		return err
	}
	if got != addr {
		panic(fmt.Sprintf("vmem: fixed allocation landed at %#x, want %#x", got, addr))
	}
	return nil
}

// Free unmaps [addr, addr+size) inside the reservation.
func (r *AddressSpaceReservation) Free(addr, size uintptr) error {
	if err := r.checkLive(addr, size); err != nil {
		return err
	}
	return r.p.freeIn(r.region, addr, size)
}

// SetPermissions reprotects a mapped range inside the reservation.
func (r *AddressSpaceReservation) SetPermissions(addr, size uintptr, perm Permission) error {
	if err := r.checkLive(addr, size); err != nil {
		return err
	}
	return r.p.setPermissionsIn(r.region, addr, size, perm)
}

// DiscardSystemPages decommits backing pages inside the reservation.
func (r *AddressSpaceReservation) DiscardSystemPages(addr, size uintptr) error {
	if err := r.checkLive(addr, size); err != nil {
		return err
	}
	return r.p.discardIn(r.region, addr, size)
}

// DecommitPages revokes access and then discards backing pages, in
// that order; see Provider.DecommitPages.
func (r *AddressSpaceReservation) DecommitPages(addr, size uintptr) error {
	if err := r.checkLive(addr, size); err != nil {
		return err
	}
	return r.p.decommitIn(r.region, addr, size)
}
