package vmem

import (
	"fmt"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// pagedObjectName tags every backing object for kernel-side diagnostics.
const pagedObjectName = "vmemkit-virtualmem"

// checkAllocationArgs enforces the caller contract shared by mapping
// and reservation creation: page-multiple size and alignment, a hint
// aligned to the requested alignment, and a non-zero hint whenever
// placement is not Anywhere.
func (p *Provider) checkAllocationArgs(hint uintptr, placement PlacementMode, size, alignment uintptr) {
	if size == 0 || size%p.pageSize != 0 {
		panic("vmem: size must be a non-zero multiple of the page size")
	}
	if alignment%p.pageSize != 0 {
		panic("vmem: alignment must be a multiple of the page size")
	}
	if alignment != 0 && hint%alignment != 0 {
		panic("vmem: hint not aligned to requested alignment")
	}
	if placement != PlacementAnywhere && hint == 0 {
		panic("vmem: hinted placement requires a non-zero hint")
	}
}

// allocateIn creates a paged object of exactly size bytes and maps it
// into region with the resolved placement. On a hint collision under
// PlacementUseHint the map call is retried exactly once without the
// specific-offset request; Fixed-mode failures propagate unchanged.
func (p *Provider) allocateIn(region kern.Region, regionBase, hint uintptr, placement PlacementMode, size, alignment uintptr, perm Permission) (uintptr, error) {
	p.checkAllocationArgs(hint, placement, size, alignment)

	obj, err := p.k.CreatePagedObject(size)
	if err != nil {
		return 0, fmt.Errorf("vmem: create paged object: %w", err)
	}
	// Best effort; an unnamed object does not fail the allocation.
	_ = obj.SetName(pagedObjectName)

	// Grant execute capability up front, whatever the requested
	// permission. Deferring the grant until an executable permission
	// is actually requested would force a remap on upgrade, which the
	// SetPermissions contract does not allow for.
	if err := obj.ReplaceAsExecutable(p.exec); err != nil {
		_ = obj.Close()
		return 0, fmt.Errorf("vmem: execute-capability grant: %w", err)
	}

	flags := protectionFlags(perm)
	alignFlags := alignmentFlags(alignment)
	if alignFlags == 0 {
		panic("vmem: unsupported alignment")
	}
	flags |= alignFlags

	offset, specific := resolvePlacement(hint, regionBase, placement)
	if specific {
		flags |= kern.Specific
	}

	addr, err := region.Map(flags, offset, obj, 0, size)
	if err != nil && placement == PlacementUseHint {
		// The hinted offset was rejected, typically because it
		// overlapped another mapping. Drop the specific request and
		// let the kernel pick any range satisfying the alignment.
		p.log.Debug("placement hint rejected, retrying anywhere",
			"hint", fmt.Sprintf("%#x", hint), "size", size, "err", err)
		flags &^= kern.Specific
		addr, err = region.Map(flags, 0, obj, 0, size)
	}

	// The mapping, if any, keeps the object's pages alive; the handle
	// itself is no longer needed.
	_ = obj.Close()

	if err != nil {
		return 0, fmt.Errorf("vmem: map paged object: %w", err)
	}
	return addr, nil
}

// createReservationIn creates an uncommitted child region with the
// same placement, alignment and retry policy as allocateIn.
func (p *Provider) createReservationIn(parent kern.Region, parentBase, hint uintptr, placement PlacementMode, size, alignment uintptr, maxPermission Permission) (*AddressSpaceReservation, error) {
	p.checkAllocationArgs(hint, placement, size, alignment)

	// The child carries the full can-map capability set rather than
	// one narrowed to maxPermission, so later permission upgrades
	// inside the reservation never require recreating it.
	_ = maxPermission
	flags := kern.CanMapRead | kern.CanMapWrite | kern.CanMapExecute | kern.CanMapSpecific

	alignFlags := alignmentFlags(alignment)
	if alignFlags == 0 {
		panic("vmem: unsupported alignment")
	}
	flags |= alignFlags

	offset, specific := resolvePlacement(hint, parentBase, placement)
	if specific {
		flags |= kern.Specific
	}

	child, err := parent.Allocate(flags, offset, size)
	if err != nil && placement == PlacementUseHint {
		p.log.Debug("reservation hint rejected, retrying anywhere",
			"hint", fmt.Sprintf("%#x", hint), "size", size, "err", err)
		flags &^= kern.Specific
		child, err = parent.Allocate(flags, 0, size)
	}
	if err != nil {
		return nil, fmt.Errorf("vmem: create reservation region: %w", err)
	}

	r := &AddressSpaceReservation{
		p:      p,
		region: child,
		base:   child.Base(),
		size:   size,
	}
	p.log.Debug("reservation created",
		"base", fmt.Sprintf("%#x", r.base), "size", size)
	return r, nil
}

// checkPageRange enforces the page-aligned range contract shared by
// the free/protect/discard operations.
func (p *Provider) checkPageRange(addr, size uintptr) {
	if addr%p.pageSize != 0 {
		panic("vmem: address must be page-aligned")
	}
	if size == 0 || size%p.pageSize != 0 {
		panic("vmem: size must be a non-zero multiple of the page size")
	}
}

func (p *Provider) freeIn(region kern.Region, addr, size uintptr) error {
	p.checkPageRange(addr, size)
	if err := region.Unmap(addr, size); err != nil {
		return fmt.Errorf("vmem: unmap: %w", err)
	}
	return nil
}

func (p *Provider) setPermissionsIn(region kern.Region, addr, size uintptr, perm Permission) error {
	p.checkPageRange(addr, size)
	if err := region.Protect(protectionFlags(perm), addr, size); err != nil {
		return fmt.Errorf("vmem: protect: %w", err)
	}
	return nil
}

func (p *Provider) discardIn(region kern.Region, addr, size uintptr) error {
	p.checkPageRange(addr, size)
	if err := region.Decommit(addr, size); err != nil {
		return fmt.Errorf("vmem: decommit: %w", err)
	}
	return nil
}

// decommitIn revokes access before discarding so a racing access
// faults rather than reading the range in an intermediate state.
func (p *Provider) decommitIn(region kern.Region, addr, size uintptr) error {
	if err := p.setPermissionsIn(region, addr, size, NoAccess); err != nil {
		return err
	}
	return p.discardIn(region, addr, size)
}
