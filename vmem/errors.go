package vmem

import "errors"

var (
	// ErrReleased indicates an operation on an address-space
	// reservation whose native region has already been destroyed.
	// Reservations are single-owner, release-exactly-once resources.
	ErrReleased = errors.New("vmem: reservation already released")
)
