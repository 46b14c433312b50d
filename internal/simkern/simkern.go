// Package simkern is an in-memory implementation of the kern contract.
//
// It models the kernel's address space bookkeeping exactly — nested
// regions, disjoint mappings, specific-placement collisions, alignment
// honoring, decommit re-zeroing, destroy-fails-while-populated — without
// touching real process memory. Mapped contents live in the backing
// paged objects and are reachable through ReadMemory and WriteMemory,
// which is what the provider test suites are written against. It also
// serves as the fallback backend on platforms without hostkern.
package simkern

import (
	"sync"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

const (
	pageSize = 4096

	// The simulated root region covers a high 1 TiB window, far from
	// anything a test would accidentally treat as a real pointer.
	rootBase = uintptr(0x2000_0000_0000)
	rootSize = uintptr(1) << 40
)

// Kernel is a simulated capability-based kernel. All methods are safe
// for concurrent use; a single kernel-wide mutex orders operations the
// way real kernel calls would be ordered.
type Kernel struct {
	mu   sync.Mutex
	root *region
}

// New returns a fresh kernel with an empty root region.
func New() *Kernel {
	k := &Kernel{}
	k.root = &region{
		k:    k,
		base: rootBase,
		size: rootSize,
		caps: kern.CanMapRead | kern.CanMapWrite | kern.CanMapExecute | kern.CanMapSpecific,
	}
	return k
}

// Name implements kern.Kernel.
func (k *Kernel) Name() string { return "simkern" }

// PageSize implements kern.Kernel.
func (k *Kernel) PageSize() uintptr { return pageSize }

// RootRegion implements kern.Kernel.
func (k *Kernel) RootRegion() kern.Region { return k.root }

// ExecResource implements kern.Kernel. The simulated kernel always has
// the execute capability available.
func (k *Kernel) ExecResource() (kern.ExecResource, error) {
	return execResource{k: k}, nil
}

// CreatePagedObject implements kern.Kernel.
func (k *Kernel) CreatePagedObject(size uintptr) (kern.PagedObject, error) {
	if size == 0 || size%pageSize != 0 {
		return nil, kern.ErrInvalidArgs
	}
	return &pagedObject{k: k, data: make([]byte, size)}, nil
}

// execResource is the kernel's execute-capability token. Objects refuse
// tokens issued by a different kernel instance.
type execResource struct {
	k *Kernel
}

// pagedObject is a simulated page-backed object. Mappings share the
// data slice, so the contents survive Close and are visible through
// every mapping of the object.
type pagedObject struct {
	k          *Kernel
	data       []byte
	name       string
	executable bool
	closed     bool
}

// Size implements kern.PagedObject.
func (o *pagedObject) Size() uintptr { return uintptr(len(o.data)) }

// SetName implements kern.PagedObject.
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

// Close implements kern.PagedObject. Existing mappings keep the data
// alive; only the handle becomes unusable.
func (o *pagedObject) Close() error {
	o.k.mu.Lock()
	defer o.k.mu.Unlock()
	if o.closed {
		return kern.ErrBadState
	}
	o.closed = true
	return nil
}
