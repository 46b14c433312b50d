package vmem

import "github.com/behnood-eghbali/vmemkit/vmem/kern"

// Permission is the access level requested for a mapping.
type Permission int

const (
	// NoAccess maps pages with no access rights.
	NoAccess Permission = iota

	// NoAccessWillJitLater maps identically to NoAccess. It signals
	// that the caller intends to upgrade the range to an executable
	// permission later; the provider attaches the execute capability
	// to every backing object regardless, so the two behave the same
	// here.
	NoAccessWillJitLater

	// Read maps pages read-only.
	Read

	// ReadWrite maps pages readable and writable.
	ReadWrite

	// ReadExecute maps pages readable and executable.
	ReadExecute

	// ReadWriteExecute maps pages readable, writable and executable.
	ReadWriteExecute
)

// String returns the permission name for diagnostics.
func (p Permission) String() string {
	switch p {
	case NoAccess:
		return "NoAccess"
	case NoAccessWillJitLater:
		return "NoAccessWillJitLater"
	case Read:
		return "Read"
	case ReadWrite:
		return "ReadWrite"
	case ReadExecute:
		return "ReadExecute"
	case ReadWriteExecute:
		return "ReadWriteExecute"
	default:
		return "Permission(invalid)"
	}
}

// protectionFlags translates a permission into kernel protection bits.
// Total over the defined permissions; any other value panics.
func protectionFlags(p Permission) kern.VMFlags {
	switch p {
	case NoAccess, NoAccessWillJitLater:
		return 0
	case Read:
		return kern.PermRead
	case ReadWrite:
		return kern.PermRead | kern.PermWrite
	case ReadExecute:
		return kern.PermRead | kern.PermExecute
	case ReadWriteExecute:
		return kern.PermRead | kern.PermWrite | kern.PermExecute
	default:
		panic("vmem: invalid permission")
	}
}
