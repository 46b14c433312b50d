//go:build linux

package hostkern

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// Kernel implements kern.Kernel on Linux.
type Kernel struct {
	mu       sync.Mutex
	pageSize uintptr
	root     *region
}

// New returns a kernel backed by the host's virtual-memory syscalls.
func New() (kern.Kernel, error) {
	k := &Kernel{pageSize: uintptr(unix.Getpagesize())}
	k.root = &region{
		k:    k,
		base: 0,
		size: ^uintptr(0),
		caps: kern.CanMapRead | kern.CanMapWrite | kern.CanMapExecute | kern.CanMapSpecific,
	}
	return k, nil
}

// Name implements kern.Kernel.
func (k *Kernel) Name() string { return "hostkern" }

// PageSize implements kern.Kernel.
func (k *Kernel) PageSize() uintptr { return k.pageSize }

// RootRegion implements kern.Kernel.
func (k *Kernel) RootRegion() kern.Region { return k.root }

// ExecResource implements kern.Kernel. The host does not gate
// executable anonymous mappings behind a privileged resource, so the
// token is always available.
func (k *Kernel) ExecResource() (kern.ExecResource, error) {
	return execResource{k: k}, nil
}

// CreatePagedObject implements kern.Kernel. The object is an anonymous
// memory file sized exactly to the request.
func (k *Kernel) CreatePagedObject(size uintptr) (kern.PagedObject, error) {
	if size == 0 || size%k.pageSize != 0 {
		return nil, kern.ErrInvalidArgs
	}
	fd, err := unix.MemfdCreate("vmemkit-vmo", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, kern.ErrNoMemory
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, kern.ErrNoMemory
	}
	return &pagedObject{k: k, fd: fd, size: size}, nil
}

type execResource struct {
	k *Kernel
}

// pagedObject is a memfd-backed kern.PagedObject. Mappings hold their
// own duplicated descriptor, so closing the object handle leaves them
// intact.
type pagedObject struct {
	k          *Kernel
	fd         int
	size       uintptr
	name       string
	executable bool
	closed     bool
}

// Size implements kern.PagedObject.
func (o *pagedObject) Size() uintptr { return o.size }

// SetName implements kern.PagedObject. The host names memory files at
// creation time only; the name is recorded for this layer's own
// diagnostics.
func (o *pagedObject) SetName(name string) error {
	o.k.mu.Lock()
	defer o.k.mu.Unlock()
	if o.closed {
		return kern.ErrBadState
	}
	o.name = name
	return nil
}

// ReplaceAsExecutable implements kern.PagedObject.
func (o *pagedObject) ReplaceAsExecutable(res kern.ExecResource) error {
	o.k.mu.Lock()
	defer o.k.mu.Unlock()
	if o.closed {
		return kern.ErrBadState
	}
	tok, ok := res.(execResource)
	if !ok || tok.k != o.k {
		return kern.ErrAccessDenied
	}
	o.executable = true
	return nil
}

// Close implements kern.PagedObject.
func (o *pagedObject) Close() error {
	o.k.mu.Lock()
	defer o.k.mu.Unlock()
	if o.closed {
		return kern.ErrBadState
	}
	o.closed = true
	return unix.Close(o.fd)
}

func protFlags(f kern.VMFlags) int {
	prot := unix.PROT_NONE
	if f&kern.PermRead != 0 {
		prot |= unix.PROT_READ
	}
	if f&kern.PermWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if f&kern.PermExecute != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// mmapAt wraps the pointer-based mmap. addr 0 lets the host choose.
func mmapAt(addr uintptr, length uintptr, prot, flags, fd int, off int64) (uintptr, error) {
	var hint unsafe.Pointer
	if addr != 0 {
		hint = unsafe.Pointer(addr)
	}
	p, err := unix.MmapPtr(fd, off, hint, length, prot, flags)
	if err != nil {
		return 0, err
	}
	return uintptr(p), nil
}

func munmapAt(addr, length uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(addr), length)
}

// reserveAligned maps a PROT_NONE anonymous reservation of the given
// size and alignment, trimming the over-mapped head and tail when the
// alignment exceeds what the host grants naturally.
func reserveAligned(size, align, pageSize uintptr) (uintptr, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE
	if align <= pageSize {
		return mmapAt(0, size, unix.PROT_NONE, flags, -1, 0)
	}
	raw, err := mmapAt(0, size+align, unix.PROT_NONE, flags, -1, 0)
	if err != nil {
		return 0, err
	}
	base := alignUp(raw, align)
	if head := base - raw; head != 0 {
		_ = munmapAt(raw, head)
	}
	if tail := raw + size + align - (base + size); tail != 0 {
		_ = munmapAt(base+size, tail)
	}
	return base, nil
}
