package simkern

import (
	"sort"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// region is a simulated address-space region. Mappings and child
// regions inside it are kept disjoint; every mutation happens under the
// kernel mutex.
type region struct {
	k      *Kernel
	parent *region

	base uintptr
	size uintptr
	caps kern.VMFlags // CanMap* capability bits

	children  []*region
	mappings  []*mapping
	destroyed bool
}

// mapping is one live mapping of a paged object inside a region.
type mapping struct {
	addr   uintptr
	size   uintptr
	obj    *pagedObject
	objOff uintptr
	prot   kern.VMFlags
}

// Base implements kern.Region.
func (r *region) Base() uintptr { return r.base }

// Size implements kern.Region.
func (r *region) Size() uintptr { return r.size }

// span is an occupied [start, end) interval.
type span struct {
	start, end uintptr
}

// occupied returns the region's occupied intervals sorted by start.
func (r *region) occupied() []span {
	spans := make([]span, 0, len(r.children)+len(r.mappings))
	for _, c := range r.children {
		spans = append(spans, span{c.base, c.base + c.size})
	}
	for _, m := range r.mappings {
		spans = append(spans, span{m.addr, m.addr + m.size})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

// overlapsOccupied reports whether [addr, addr+size) intersects any
// mapping or child region.
func (r *region) overlapsOccupied(addr, size uintptr) bool {
	end := addr + size
	for _, s := range r.occupied() {
		if addr < s.end && s.start < end {
			return true
		}
	}
	return false
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// findGap returns the lowest free address in the region that fits size
// bytes at the given alignment, or ErrNoMemory.
func (r *region) findGap(size, align uintptr) (uintptr, error) {
	candidate := alignUp(r.base, align)
	for _, s := range r.occupied() {
		if candidate+size <= s.start {
			break
		}
		if s.end > candidate {
			candidate = alignUp(s.end, align)
		}
	}
	if candidate < r.base || candidate+size > r.base+r.size {
		return 0, kern.ErrNoMemory
	}
	return candidate, nil
}

// placeAt resolves the target address for a Map or Allocate call and
// verifies bounds, alignment and collisions.
func (r *region) placeAt(flags kern.VMFlags, offset, size uintptr) (uintptr, error) {
	align := flags.Alignment()
	if align == 0 {
		align = pageSize
	}
	if flags&kern.Specific == 0 {
		return r.findGap(size, align)
	}
	if r.caps&kern.CanMapSpecific == 0 {
		return 0, kern.ErrAccessDenied
	}
	addr := r.base + offset
	if addr%align != 0 {
		return 0, kern.ErrInvalidArgs
	}
	if offset+size > r.size {
		return 0, kern.ErrOutOfRange
	}
	if r.overlapsOccupied(addr, size) {
		return 0, kern.ErrAlreadyMapped
	}
	return addr, nil
}

// checkRange verifies [addr, addr+size) is a page-aligned range inside
// the region.
func (r *region) checkRange(addr, size uintptr) error {
	if addr%pageSize != 0 || size == 0 || size%pageSize != 0 {
		return kern.ErrInvalidArgs
	}
	if addr < r.base || addr+size > r.base+r.size {
		return kern.ErrOutOfRange
	}
	return nil
}

// permittedBy reports whether the requested protection bits fit the
// region's capabilities and the object's execute grant.
func permittedBy(prot, caps kern.VMFlags, obj *pagedObject) error {
	if prot&kern.PermRead != 0 && caps&kern.CanMapRead == 0 ||
		prot&kern.PermWrite != 0 && caps&kern.CanMapWrite == 0 ||
		prot&kern.PermExecute != 0 && caps&kern.CanMapExecute == 0 {
		return kern.ErrAccessDenied
	}
	if prot&kern.PermExecute != 0 && !obj.executable {
		return kern.ErrAccessDenied
	}
	return nil
}

// Map implements kern.Region.
func (r *region) Map(flags kern.VMFlags, offset uintptr, obj kern.PagedObject, objOffset, size uintptr) (uintptr, error) {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return 0, kern.ErrBadState
	}
	o, ok := obj.(*pagedObject)
	if !ok || o.k != r.k {
		return 0, kern.ErrInvalidArgs
	}
	if o.closed {
		return 0, kern.ErrBadState
	}
	if size == 0 || size%pageSize != 0 || objOffset%pageSize != 0 {
		return 0, kern.ErrInvalidArgs
	}
	if objOffset+size > uintptr(len(o.data)) {
		return 0, kern.ErrOutOfRange
	}
	if err := permittedBy(flags.Perm(), r.caps, o); err != nil {
		return 0, err
	}
	addr, err := r.placeAt(flags, offset, size)
	if err != nil {
		return 0, err
	}
	r.mappings = append(r.mappings, &mapping{
		addr:   addr,
		size:   size,
		obj:    o,
		objOff: objOffset,
		prot:   flags.Perm(),
	})
	return addr, nil
}

// splitAt splits any mapping straddling addr into two adjacent
// mappings so that addr becomes a mapping boundary.
func (r *region) splitAt(addr uintptr) {
	for _, m := range r.mappings {
		if m.addr < addr && addr < m.addr+m.size {
			head := addr - m.addr
			r.mappings = append(r.mappings, &mapping{
				addr:   addr,
				size:   m.size - head,
				obj:    m.obj,
				objOff: m.objOff + head,
				prot:   m.prot,
			})
			m.size = head
			return
		}
	}
}

// coveredBy returns the mappings fully inside [addr, addr+size) after
// splitting at the range boundaries, plus the number of bytes covered.
func (r *region) coveredBy(addr, size uintptr) ([]*mapping, uintptr) {
	r.splitAt(addr)
	r.splitAt(addr + size)
	var covered []*mapping
	var bytes uintptr
	for _, m := range r.mappings {
		if m.addr >= addr && m.addr+m.size <= addr+size {
			covered = append(covered, m)
			bytes += m.size
		}
	}
	return covered, bytes
}

// Unmap implements kern.Region.
func (r *region) Unmap(addr, size uintptr) error {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return kern.ErrBadState
	}
	if err := r.checkRange(addr, size); err != nil {
		return err
	}
	for _, c := range r.children {
		if addr < c.base+c.size && c.base < addr+size {
			return kern.ErrBadState
		}
	}
	victims, _ := r.coveredBy(addr, size)
	if len(victims) == 0 {
		return kern.ErrNotFound
	}
	kept := r.mappings[:0]
	for _, m := range r.mappings {
		doomed := false
		for _, v := range victims {
			if m == v {
				doomed = true
				break
			}
		}
		if !doomed {
			kept = append(kept, m)
		}
	}
	r.mappings = kept
	return nil
}

// Protect implements kern.Region. The whole range must be mapped.
func (r *region) Protect(flags kern.VMFlags, addr, size uintptr) error {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return kern.ErrBadState
	}
	if err := r.checkRange(addr, size); err != nil {
		return err
	}
	covered, bytes := r.coveredBy(addr, size)
	if bytes != size {
		return kern.ErrNotFound
	}
	prot := flags.Perm()
	for _, m := range covered {
		if err := permittedBy(prot, r.caps, m.obj); err != nil {
			return err
		}
	}
	for _, m := range covered {
		m.prot = prot
	}
	return nil
}

// Decommit implements kern.Region. Backing bytes in the range are
// zeroed so the next access observes fresh pages.
func (r *region) Decommit(addr, size uintptr) error {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return kern.ErrBadState
	}
	if err := r.checkRange(addr, size); err != nil {
		return err
	}
	covered, bytes := r.coveredBy(addr, size)
	if bytes != size {
		return kern.ErrNotFound
	}
	for _, m := range covered {
		clear(m.obj.data[m.objOff : m.objOff+m.size])
	}
	return nil
}

// Allocate implements kern.Region.
func (r *region) Allocate(flags kern.VMFlags, offset, size uintptr) (kern.Region, error) {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return nil, kern.ErrBadState
	}
	if size == 0 || size%pageSize != 0 {
		return nil, kern.ErrInvalidArgs
	}
	caps := flags & (kern.CanMapRead | kern.CanMapWrite | kern.CanMapExecute | kern.CanMapSpecific)
	if caps&^r.caps != 0 {
		// A child cannot hold capabilities its parent lacks.
		return nil, kern.ErrAccessDenied
	}
	addr, err := r.placeAt(flags, offset, size)
	if err != nil {
		return nil, err
	}
	child := &region{
		k:      r.k,
		parent: r,
		base:   addr,
		size:   size,
		caps:   caps,
	}
	r.children = append(r.children, child)
	return child, nil
}

// Destroy implements kern.Region.
func (r *region) Destroy() error {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return kern.ErrBadState
	}
	if r.parent == nil {
		// The root region is process-lifetime.
		return kern.ErrAccessDenied
	}
	if len(r.children) > 0 || len(r.mappings) > 0 {
		return kern.ErrBadState
	}
	kept := r.parent.children[:0]
	for _, c := range r.parent.children {
		if c != r {
			kept = append(kept, c)
		}
	}
	r.parent.children = kept
	r.destroyed = true
	return nil
}
