//go:build linux

package hostkern

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

func memAt(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func newTestKernel(t *testing.T) (*Kernel, uintptr) {
	t.Helper()
	k, err := New()
	require.NoError(t, err)
	hk := k.(*Kernel)
	return hk, hk.pageSize
}

func newObject(t *testing.T, k *Kernel, size uintptr) kern.PagedObject {
	t.Helper()
	obj, err := k.CreatePagedObject(size)
	require.NoError(t, err)
	t.Cleanup(func() { obj.Close() })
	return obj
}

// TestMap_WriteRead maps an object read-write and touches real memory.
func TestMap_WriteRead(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	obj := newObject(t, k, 2*ps)
	addr, err := root.Map(kern.PermRead|kern.PermWrite, 0, obj, 0, 2*ps)
	require.NoError(t, err)
	defer root.Unmap(addr, 2*ps)

	mem := memAt(addr, 2*ps)
	copy(mem, bytes.Repeat([]byte{0x42}, int(2*ps)))
	assert.Equal(t, byte(0x42), mem[ps+17])
}

// TestMap_SharedBacking maps the same object twice and checks writes
// through one mapping are visible through the other.
func TestMap_SharedBacking(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	obj := newObject(t, k, ps)
	a, err := root.Map(kern.PermRead|kern.PermWrite, 0, obj, 0, ps)
	require.NoError(t, err)
	defer root.Unmap(a, ps)
	b, err := root.Map(kern.PermRead, 0, obj, 0, ps)
	require.NoError(t, err)
	defer root.Unmap(b, ps)

	memAt(a, ps)[123] = 0x7F
	assert.Equal(t, byte(0x7F), memAt(b, ps)[123])
}

// TestDecommit_RereadsZero punches the backing pages and checks the
// mapping re-reads zero-filled without being disturbed.
func TestDecommit_RereadsZero(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	obj := newObject(t, k, ps)
	addr, err := root.Map(kern.PermRead|kern.PermWrite, 0, obj, 0, ps)
	require.NoError(t, err)
	defer root.Unmap(addr, ps)

	mem := memAt(addr, ps)
	copy(mem, bytes.Repeat([]byte{0xAB}, int(ps)))

	require.NoError(t, root.Decommit(addr, ps))
	assert.Equal(t, make([]byte, ps), []byte(mem), "decommitted pages must read as zeros")
}

// TestProtect_Reprotects flips a mapping read-only and back.
func TestProtect_Reprotects(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	obj := newObject(t, k, ps)
	addr, err := root.Map(kern.PermRead|kern.PermWrite, 0, obj, 0, ps)
	require.NoError(t, err)
	defer root.Unmap(addr, ps)

	require.NoError(t, root.Protect(kern.PermRead, addr, ps))
	assert.Equal(t, byte(0), memAt(addr, ps)[0])
	require.NoError(t, root.Protect(kern.PermRead|kern.PermWrite, addr, ps))
	memAt(addr, ps)[0] = 1
}

// TestReservation_CarveAndMap reserves space, carves a child and maps
// at a fixed offset inside it.
func TestReservation_CarveAndMap(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	caps := kern.CanMapRead | kern.CanMapWrite | kern.CanMapExecute | kern.CanMapSpecific
	res, err := root.Allocate(caps, 0, 16*ps)
	require.NoError(t, err)

	sub, err := res.Allocate(caps|kern.Specific, 4*ps, 8*ps)
	require.NoError(t, err)
	assert.Equal(t, res.Base()+4*ps, sub.Base())

	obj := newObject(t, k, 2*ps)
	addr, err := sub.Map(kern.PermRead|kern.PermWrite|kern.Specific, 2*ps, obj, 0, 2*ps)
	require.NoError(t, err)
	assert.Equal(t, sub.Base()+2*ps, addr)

	memAt(addr, 2*ps)[0] = 0x9C
	assert.Equal(t, byte(0x9C), memAt(addr, 2*ps)[0])

	// Teardown order matters: populated regions refuse to die.
	assert.ErrorIs(t, sub.Destroy(), kern.ErrBadState)
	require.NoError(t, sub.Unmap(addr, 2*ps))
	require.NoError(t, sub.Destroy())
	require.NoError(t, res.Destroy())
}

// TestReservation_SpecificCollision checks carve collisions inside a
// reservation surface as ErrAlreadyMapped.
func TestReservation_SpecificCollision(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	caps := kern.CanMapRead | kern.CanMapWrite | kern.CanMapSpecific
	res, err := root.Allocate(caps, 0, 8*ps)
	require.NoError(t, err)
	defer res.Destroy()

	subA, err := res.Allocate(caps|kern.Specific, 0, 4*ps)
	require.NoError(t, err)
	defer subA.Destroy()

	_, err = res.Allocate(caps|kern.Specific, 2*ps, 4*ps)
	assert.ErrorIs(t, err, kern.ErrAlreadyMapped)
}

// TestAllocate_AlignedReservation checks the trim-based alignment path.
func TestAllocate_AlignedReservation(t *testing.T) {
	k, ps := newTestKernel(t)
	root := k.root

	const align = 1 << 21 // 2 MiB
	caps := kern.CanMapRead | kern.CanMapWrite | kern.CanMapSpecific
	res, err := root.Allocate(caps|kern.VMFlags(21)<<kern.AlignBase, 0, 4*ps)
	require.NoError(t, err)
	defer res.Destroy()

	assert.Zero(t, res.Base()%align, "reservation must honor the alignment field")
}
