//go:build !linux

package hostkern

import "github.com/behnood-eghbali/vmemkit/vmem/kern"

// New reports the host backend as unavailable on this platform.
func New() (kern.Kernel, error) {
	return nil, kern.ErrUnavailable
}
