package kern

// Kernel is the entry point to a virtual-memory backend. Implementations
// are safe for use from multiple goroutines; the provider built on top
// performs no locking of its own.
type Kernel interface {
	// Name identifies the backend ("hostkern", "simkern").
	Name() string

	// PageSize returns the allocation granularity. Every address, size
	// and alignment passed to this layer must be a multiple of it. On
	// the kernels this module targets the commit granularity is the
	// same value.
	PageSize() uintptr

	// RootRegion returns the process's root address-space region. The
	// returned handle is process-lifetime and must not be destroyed.
	RootRegion() Region

	// ExecResource returns the privileged execute-capability resource
	// used to grant PagedObjects the right to be mapped executable.
	// On platforms that restrict executable mappings the lookup can
	// fail; callers must treat that as fatal to initialization.
	ExecResource() (ExecResource, error)

	// CreatePagedObject creates a page-backed object of exactly size
	// bytes, zero-filled. size must be a multiple of PageSize.
	CreatePagedObject(size uintptr) (PagedObject, error)
}

// ExecResource is an opaque execute-capability token. Each backend
// accepts only tokens it issued itself.
type ExecResource interface{}

// PagedObject is a kernel object representing physical pages. Mappings
// created from an object keep its pages alive after the handle is
// closed.
type PagedObject interface {
	// Size returns the object size in bytes.
	Size() uintptr

	// SetName attaches a diagnostic name to the object. Best effort;
	// callers may ignore the error.
	SetName(name string) error

	// ReplaceAsExecutable upgrades the object so it may be mapped with
	// PermExecute. res must come from the same kernel's ExecResource.
	ReplaceAsExecutable(res ExecResource) error

	// Close releases the handle. Existing mappings are unaffected.
	Close() error
}

// Region is a kernel-managed slice of address space. It can contain
// mappings of paged objects and child regions, all disjoint.
type Region interface {
	// Base returns the region's first address.
	Base() uintptr

	// Size returns the region's length in bytes.
	Size() uintptr

	// Map maps size bytes of obj starting at objOffset into the region
	// and returns the chosen address. With Specific set, the mapping is
	// placed exactly at Base()+offset or the call fails; otherwise the
	// kernel picks a free range honoring the alignment field of flags.
	Map(flags VMFlags, offset uintptr, obj PagedObject, objOffset, size uintptr) (uintptr, error)

	// Unmap removes the mappings covering [addr, addr+size). Fails with
	// ErrNotFound if the range holds no mapping.
	Unmap(addr, size uintptr) error

	// Protect changes the protection bits of the mapped range
	// [addr, addr+size) to the Perm bits of flags.
	Protect(flags VMFlags, addr, size uintptr) error

	// Decommit releases the physical pages backing [addr, addr+size).
	// The range stays mapped and reads as zeros on next access.
	Decommit(addr, size uintptr) error

	// Allocate creates a child region of size bytes with the CanMap*
	// capabilities of flags and no committed pages. Placement follows
	// the same Specific/alignment rules as Map.
	Allocate(flags VMFlags, offset, size uintptr) (Region, error)

	// Destroy destroys the region. Fails with ErrBadState while live
	// mappings or child regions remain inside it.
	Destroy() error
}
