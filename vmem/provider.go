package vmem

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// Provider is the public face of the virtual-memory layer. It is an
// immutable configuration object: the root region, its base address,
// the page size and the execute-capability resource are queried exactly
// once at construction and never change afterwards.
type Provider struct {
	k        kern.Kernel
	root     kern.Region
	rootBase uintptr
	pageSize uintptr
	exec     kern.ExecResource
	log      *slog.Logger
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithLogger enables structured debug logging of hint fallbacks and
// reservation lifecycle events. Logging is discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// New builds a Provider on top of a kernel backend. Failure to obtain
// the execute-capability resource is fatal to initialization: the
// provider unconditionally grants execute capability to every backing
// object it creates (see Allocate), so it cannot operate without it.
func New(k kern.Kernel, opts ...Option) (*Provider, error) {
	exec, err := k.ExecResource()
	if err != nil {
		return nil, fmt.Errorf("vmem: execute-capability resource unavailable: %w", err)
	}
	root := k.RootRegion()
	p := &Provider{
		k:        k,
		root:     root,
		rootBase: root.Base(),
		pageSize: k.PageSize(),
		exec:     exec,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AllocatePageSize returns the allocation granularity. Addresses,
// sizes and alignments passed to this layer must be multiples of it.
func (p *Provider) AllocatePageSize() uintptr { return p.pageSize }

// CommitPageSize returns the commit granularity. On the kernels this
// module targets it equals AllocatePageSize.
func (p *Provider) CommitPageSize() uintptr { return p.pageSize }

// Allocate maps size bytes with the given permission and returns the
// mapped base address. A non-zero hint requests best-effort placement:
// if the hinted spot is occupied the kernel picks another range
// satisfying alignment. alignment must be a supported power of two at
// least the page size.
func (p *Provider) Allocate(hint uintptr, size, alignment uintptr, perm Permission) (uintptr, error) {
	placement := PlacementAnywhere
	if hint != 0 {
		placement = PlacementUseHint
	}
	return p.allocateIn(p.root, p.rootBase, hint, placement, size, alignment, perm)
}

// Free unmaps the page-aligned range [addr, addr+size).
func (p *Provider) Free(addr, size uintptr) error {
	return p.freeIn(p.root, addr, size)
}

// Release is an alias of Free: on this kernel releasing address space
// and unmapping are the same operation.
func (p *Provider) Release(addr, size uintptr) error {
	return p.Free(addr, size)
}

// SetPermissions reprotects the mapped range [addr, addr+size).
func (p *Provider) SetPermissions(addr, size uintptr, perm Permission) error {
	return p.setPermissionsIn(p.root, addr, size, perm)
}

// DiscardSystemPages decommits the physical pages backing the range.
// The range stays mapped and reads as zeros on next access.
func (p *Provider) DiscardSystemPages(addr, size uintptr) error {
	return p.discardIn(p.root, addr, size)
}

// DecommitPages revokes access to the range and then discards its
// backing pages. Permissions are revoked first so that a racing access
// during the transition faults instead of observing the pages in an
// intermediate state.
func (p *Provider) DecommitPages(addr, size uintptr) error {
	return p.decommitIn(p.root, addr, size)
}

// CanReserveAddressSpace reports whether address-space reservations are
// supported. Always true on this kernel.
func (p *Provider) CanReserveAddressSpace() bool { return true }

// HasLazyCommits reports whether mapped pages are committed lazily on
// first touch. Always true on this kernel.
func (p *Provider) HasLazyCommits() bool { return true }

// CreateAddressSpaceReservation reserves size bytes of address space
// inside the root region without committing backing pages. A non-zero
// hint is best-effort, as in Allocate. maxPermission bounds what the
// caller intends to map inside the reservation later.
func (p *Provider) CreateAddressSpaceReservation(hint uintptr, size, alignment uintptr, maxPermission Permission) (*AddressSpaceReservation, error) {
	if alignment != 0 && hint%alignment != 0 {
		panic("vmem: hint not aligned to requested alignment")
	}
	placement := PlacementAnywhere
	if hint != 0 {
		placement = PlacementUseHint
	}
	return p.createReservationIn(p.root, p.rootBase, hint, placement, size, alignment, maxPermission)
}

// FreeAddressSpaceReservation destroys the reservation's native region
// and invalidates it. Fails while live mappings or sub-reservations
// remain inside; fails with ErrReleased if already released.
func (p *Provider) FreeAddressSpaceReservation(r *AddressSpaceReservation) error {
	if r.released {
		return ErrReleased
	}
	if err := r.region.Destroy(); err != nil {
		return fmt.Errorf("vmem: destroy reservation region: %w", err)
	}
	r.released = true
	p.log.Debug("reservation released", "base", fmt.Sprintf("%#x", r.base), "size", r.size)
	return nil
}

// SharedLibraryAddress names one loaded shared library and its mapped
// extent, as reported by platforms that support enumeration.
type SharedLibraryAddress struct {
	Name  string
	Start uintptr
	End   uintptr
}

// SharedLibraryAddresses is not implemented on this kernel and panics
// if invoked.
func (p *Provider) SharedLibraryAddresses() []SharedLibraryAddress {
	panic("vmem: shared-library enumeration is not implemented on this kernel")
}

// SignalCodeMovingGC is not implemented on this kernel and panics if
// invoked.
func (p *Provider) SignalCodeMovingGC() {
	panic("vmem: code-moving GC signaling is not implemented on this kernel")
}

// MemoryRange is a half-open [Start, End) address range.
type MemoryRange struct {
	Start uintptr
	End   uintptr
}

// FreeMemoryRangesWithin scans for free ranges inside a boundary. This
// kernel does not support the scan and reports none.
func (p *Provider) FreeMemoryRangesWithin(boundaryStart, boundaryEnd uintptr, minimumSize, alignment uintptr) []MemoryRange {
	return nil
}
