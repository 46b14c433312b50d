package simkern

import "github.com/behnood-eghbali/vmemkit/vmem/kern"

// findMapping locates the live mapping containing addr anywhere in the
// region tree. Caller holds the kernel mutex.
func findMapping(r *region, addr uintptr) *mapping {
	for _, m := range r.mappings {
		if addr >= m.addr && addr < m.addr+m.size {
			return m
		}
	}
	for _, c := range r.children {
		if addr >= c.base && addr < c.base+c.size {
			return findMapping(c, addr)
		}
	}
	return nil
}

// access copies between buf and the mapped contents at addr, verifying
// the permission bit on every mapping the span crosses.
func (k *Kernel) access(addr uintptr, buf []byte, perm kern.VMFlags, write bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for len(buf) > 0 {
		m := findMapping(k.root, addr)
		if m == nil {
			return kern.ErrNotFound
		}
		if m.prot&perm == 0 {
			return kern.ErrAccessDenied
		}
		off := m.objOff + (addr - m.addr)
		n := m.size - (addr - m.addr)
		if n > uintptr(len(buf)) {
			n = uintptr(len(buf))
		}
		if write {
			copy(m.obj.data[off:off+n], buf[:n])
		} else {
			copy(buf[:n], m.obj.data[off:off+n])
		}
		addr += n
		buf = buf[n:]
	}
	return nil
}

// ReadMemory copies len(buf) bytes of mapped memory at addr into buf.
// Every page in the span must be mapped readable.
func (k *Kernel) ReadMemory(addr uintptr, buf []byte) error {
	return k.access(addr, buf, kern.PermRead, false)
}

// WriteMemory copies data into the mapped memory at addr. Every page in
// the span must be mapped writable.
func (k *Kernel) WriteMemory(addr uintptr, data []byte) error {
	return k.access(addr, data, kern.PermWrite, true)
}
