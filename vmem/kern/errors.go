package kern

import "errors"

var (
	// ErrNoMemory indicates the kernel could not satisfy an allocation
	// or find a free range matching the request.
	ErrNoMemory = errors.New("kern: out of memory or address space")

	// ErrInvalidArgs indicates malformed arguments (bad offset, bad
	// alignment, zero size).
	ErrInvalidArgs = errors.New("kern: invalid arguments")

	// ErrAlreadyMapped indicates a Specific placement collided with an
	// existing mapping or child region.
	ErrAlreadyMapped = errors.New("kern: requested range already occupied")

	// ErrAccessDenied indicates the operation exceeds the capabilities
	// of the region or object (for example mapping executable pages
	// from an object that was never granted execute capability).
	ErrAccessDenied = errors.New("kern: access denied")

	// ErrBadState indicates the handle is not in a state that permits
	// the operation (destroyed region, closed object, or destroying a
	// region that still contains live mappings or child regions).
	ErrBadState = errors.New("kern: bad handle state")

	// ErrNotFound indicates the address range names no live mapping.
	ErrNotFound = errors.New("kern: no mapping in range")

	// ErrOutOfRange indicates an address range outside the region or
	// object bounds.
	ErrOutOfRange = errors.New("kern: range out of bounds")

	// ErrUnavailable indicates the backend cannot run on this platform.
	ErrUnavailable = errors.New("kern: backend unavailable on this platform")
)
