//go:build linux

package hostkern

import (
	"errors"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// region implements kern.Region. The root region stands for the whole
// process address space and defers placement to the host; child
// regions are PROT_NONE reservations whose interior this layer manages
// itself with fixed mappings.
type region struct {
	k      *Kernel
	parent *region

	base uintptr
	size uintptr
	caps kern.VMFlags

	children  []*region
	mappings  []*mapping
	destroyed bool
}

// fileRef shares one duplicated memfd descriptor between the mapping
// records produced by splitting, closing it when the last user goes.
type fileRef struct {
	fd   int
	refs int
}

func (f *fileRef) acquire() *fileRef { f.refs++; return f }

func (f *fileRef) release() {
	f.refs--
	if f.refs == 0 {
		unix.Close(f.fd)
	}
}

// mapping is one live fixed mapping tracked by this layer. fileOff is
// the offset of addr within the backing memory file.
type mapping struct {
	addr    uintptr
	size    uintptr
	file    *fileRef
	fileOff int64
}

func (r *region) isRoot() bool { return r.parent == nil }

// Base implements kern.Region.
func (r *region) Base() uintptr { return r.base }

// Size implements kern.Region.
func (r *region) Size() uintptr { return r.size }

type span struct {
	start, end uintptr
}

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

func (r *region) overlapsOccupied(addr, size uintptr) bool {
	end := addr + size
	for _, s := range r.occupied() {
		if addr < s.end && s.start < end {
			return true
		}
	}
	return false
}

// findGap picks the lowest free aligned range inside a reservation.
// Only meaningful for non-root regions, whose interior this layer
// tracks completely.
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

func (r *region) checkRange(addr, size uintptr) error {
	if addr%r.k.pageSize != 0 || size == 0 || size%r.k.pageSize != 0 {
		return kern.ErrInvalidArgs
	}
	if r.isRoot() {
		return nil
	}
	if addr < r.base || addr+size > r.base+r.size {
		return kern.ErrOutOfRange
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
	if size == 0 || size%r.k.pageSize != 0 || objOffset%r.k.pageSize != 0 {
		return 0, kern.ErrInvalidArgs
	}
	if objOffset+size > o.size {
		return 0, kern.ErrOutOfRange
	}
	if flags&kern.PermExecute != 0 && !o.executable {
		return 0, kern.ErrAccessDenied
	}
	if err := capsAllow(flags.Perm(), r.caps); err != nil {
		return 0, err
	}

	align := flags.Alignment()
	if align == 0 {
		align = r.k.pageSize
	}
	prot := protFlags(flags)

	var addr uintptr
	var err error
	switch {
	case flags&kern.Specific != 0:
		if r.caps&kern.CanMapSpecific == 0 {
			return 0, kern.ErrAccessDenied
		}
		target := r.base + offset
		if target%align != 0 {
			return 0, kern.ErrInvalidArgs
		}
		if !r.isRoot() {
			if offset+size > r.size {
				return 0, kern.ErrOutOfRange
			}
			if r.overlapsOccupied(target, size) {
				return 0, kern.ErrAlreadyMapped
			}
			// The spot is free interior of our own reservation, so
			// replacing the PROT_NONE backing is safe.
			addr, err = mmapAt(target, size, prot, unix.MAP_SHARED|unix.MAP_FIXED, o.fd, int64(objOffset))
		} else {
			addr, err = mmapAt(target, size, prot, unix.MAP_SHARED|unix.MAP_FIXED_NOREPLACE, o.fd, int64(objOffset))
			if errors.Is(err, unix.EEXIST) {
				return 0, kern.ErrAlreadyMapped
			}
		}
	case r.isRoot():
		if align > r.k.pageSize {
			// Host mmap only guarantees page alignment; stage a
			// trimmed reservation and map over it.
			var base uintptr
			base, err = reserveAligned(size, align, r.k.pageSize)
			if err == nil {
				addr, err = mmapAt(base, size, prot, unix.MAP_SHARED|unix.MAP_FIXED, o.fd, int64(objOffset))
			}
		} else {
			addr, err = mmapAt(0, size, prot, unix.MAP_SHARED, o.fd, int64(objOffset))
		}
	default:
		var gap uintptr
		gap, err = r.findGap(size, align)
		if err == nil {
			addr, err = mmapAt(gap, size, prot, unix.MAP_SHARED|unix.MAP_FIXED, o.fd, int64(objOffset))
		}
	}
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return 0, kern.ErrNoMemory
		}
		if err == kern.ErrNoMemory {
			return 0, err
		}
		return 0, kern.ErrInvalidArgs
	}

	dup, derr := unix.Dup(o.fd)
	if derr != nil {
		_ = munmapAt(addr, size)
		return 0, kern.ErrNoMemory
	}
	r.mappings = append(r.mappings, &mapping{
		addr:    addr,
		size:    size,
		file:    (&fileRef{fd: dup}).acquire(),
		fileOff: int64(objOffset),
	})
	return addr, nil
}

func capsAllow(prot, caps kern.VMFlags) error {
	if prot&kern.PermRead != 0 && caps&kern.CanMapRead == 0 ||
		prot&kern.PermWrite != 0 && caps&kern.CanMapWrite == 0 ||
		prot&kern.PermExecute != 0 && caps&kern.CanMapExecute == 0 {
		return kern.ErrAccessDenied
	}
	return nil
}

// splitAt makes addr a mapping boundary so ranges can be removed or
// decommitted piecewise.
func (r *region) splitAt(addr uintptr) {
	for _, m := range r.mappings {
		if m.addr < addr && addr < m.addr+m.size {
			head := addr - m.addr
			r.mappings = append(r.mappings, &mapping{
				addr:    addr,
				size:    m.size - head,
				file:    m.file.acquire(),
				fileOff: m.fileOff + int64(head),
			})
			m.size = head
			return
		}
	}
}

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

// Unmap implements kern.Region. Inside a reservation the range is
// re-reserved PROT_NONE instead of truly unmapped, keeping the
// reservation's shape intact.
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

	for _, v := range victims {
		var err error
		if r.isRoot() {
			err = munmapAt(v.addr, v.size)
		} else {
			_, err = mmapAt(v.addr, v.size, unix.PROT_NONE,
				unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE|unix.MAP_FIXED, -1, 0)
		}
		if err != nil {
			return kern.ErrBadState
		}
		v.file.release()
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

// Protect implements kern.Region.
func (r *region) Protect(flags kern.VMFlags, addr, size uintptr) error {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return kern.ErrBadState
	}
	if err := r.checkRange(addr, size); err != nil {
		return err
	}
	if err := capsAllow(flags.Perm(), r.caps); err != nil {
		return err
	}
	_, bytes := r.coveredBy(addr, size)
	if bytes != size {
		return kern.ErrNotFound
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Mprotect(mem, protFlags(flags)); err != nil {
		return kern.ErrBadState
	}
	return nil
}

// Decommit implements kern.Region. Holes are punched in the backing
// memory files, so the pages re-read as zeros without disturbing the
// mapping or its protection.
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
		err := unix.Fallocate(m.file.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
			m.fileOff, int64(m.size))
		if err != nil {
			return kern.ErrBadState
		}
	}
	return nil
}

// Allocate implements kern.Region. A child of the root claims fresh
// PROT_NONE space from the host; a child of a reservation is pure
// bookkeeping, since the parent's PROT_NONE backing already covers it.
func (r *region) Allocate(flags kern.VMFlags, offset, size uintptr) (kern.Region, error) {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()

	if r.destroyed {
		return nil, kern.ErrBadState
	}
	if size == 0 || size%r.k.pageSize != 0 {
		return nil, kern.ErrInvalidArgs
	}
	caps := flags & (kern.CanMapRead | kern.CanMapWrite | kern.CanMapExecute | kern.CanMapSpecific)
	if caps&^r.caps != 0 {
		return nil, kern.ErrAccessDenied
	}

	align := flags.Alignment()
	if align == 0 {
		align = r.k.pageSize
	}

	var base uintptr
	switch {
	case flags&kern.Specific != 0:
		if r.caps&kern.CanMapSpecific == 0 {
			return nil, kern.ErrAccessDenied
		}
		target := r.base + offset
		if target%align != 0 {
			return nil, kern.ErrInvalidArgs
		}
		if r.isRoot() {
			got, err := mmapAt(target, size, unix.PROT_NONE,
				unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE|unix.MAP_FIXED_NOREPLACE, -1, 0)
			if errors.Is(err, unix.EEXIST) {
				return nil, kern.ErrAlreadyMapped
			}
			if err != nil {
				return nil, kern.ErrNoMemory
			}
			base = got
		} else {
			if offset+size > r.size {
				return nil, kern.ErrOutOfRange
			}
			if r.overlapsOccupied(target, size) {
				return nil, kern.ErrAlreadyMapped
			}
			base = target
		}
	case r.isRoot():
		got, err := reserveAligned(size, align, r.k.pageSize)
		if err != nil {
			return nil, kern.ErrNoMemory
		}
		base = got
	default:
		got, err := r.findGap(size, align)
		if err != nil {
			return nil, err
		}
		base = got
	}

	child := &region{
		k:      r.k,
		parent: r,
		base:   base,
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
	if r.isRoot() {
		return kern.ErrAccessDenied
	}
	if len(r.children) > 0 || len(r.mappings) > 0 {
		return kern.ErrBadState
	}
	if r.parent.isRoot() {
		// The reservation owns its host mapping outright.
		if err := munmapAt(r.base, r.size); err != nil {
			return kern.ErrBadState
		}
	}
	// Inside a parent reservation the PROT_NONE backing stays; only
	// the bookkeeping goes.
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
