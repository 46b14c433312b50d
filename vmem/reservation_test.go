package vmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestReservation reserves pages*testPage bytes of address space.
func newTestReservation(t *testing.T, p *Provider, pages uintptr) *AddressSpaceReservation {
	t.Helper()
	res, err := p.CreateAddressSpaceReservation(0, pages*testPage, testPage, ReadWrite)
	require.NoError(t, err, "CreateAddressSpaceReservation should succeed")
	require.NotNil(t, res)
	return res
}

// TestReservation_BasicLifecycle reserves, checks the value fields and
// releases.
func TestReservation_BasicLifecycle(t *testing.T) {
	p, _ := newTestProvider(t)

	res := newTestReservation(t, p, 16)
	assert.NotZero(t, res.Base())
	assert.Equal(t, uintptr(16*testPage), res.Size())
	assert.Zero(t, res.Base()%testPage)

	require.NoError(t, p.FreeAddressSpaceReservation(res))
}

// TestReservation_Contains checks the containment predicate edges.
func TestReservation_Contains(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 4)
	defer p.FreeAddressSpaceReservation(res)

	assert.True(t, res.Contains(res.Base(), res.Size()))
	assert.True(t, res.Contains(res.Base()+testPage, testPage))
	assert.False(t, res.Contains(res.Base(), res.Size()+testPage))
	assert.False(t, res.Contains(res.Base()-testPage, testPage))
}

// TestReservation_HintedCreationFallsBack checks the UseHint retry for
// region creation: a hint inside an existing reservation cannot be
// honored and must relocate, not fail.
func TestReservation_HintedCreationFallsBack(t *testing.T) {
	p, _ := newTestProvider(t)

	resA := newTestReservation(t, p, 8)
	defer p.FreeAddressSpaceReservation(resA)

	resB, err := p.CreateAddressSpaceReservation(resA.Base(), 8*testPage, testPage, ReadWrite)
	require.NoError(t, err, "hinted reservation must fall back, not fail")
	defer p.FreeAddressSpaceReservation(resB)
	assert.NotEqual(t, resA.Base(), resB.Base())
}

// TestCreateSubReservation_DisjointAndOverlap carves two disjoint
// children, then checks that an overlapping carve fails without
// relocating.
func TestCreateSubReservation_DisjointAndOverlap(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 16)

	subA, err := res.CreateSubReservation(res.Base(), 4*testPage, ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, res.Base(), subA.Base(), "carve must land exactly where requested")

	subB, err := res.CreateSubReservation(res.Base()+8*testPage, 4*testPage, ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, res.Base()+8*testPage, subB.Base())

	// Overlaps subA: fixed placement must fail, never relocate.
	_, err = res.CreateSubReservation(res.Base()+2*testPage, 4*testPage, ReadWrite)
	require.Error(t, err)

	require.NoError(t, res.FreeSubReservation(subA))
	require.NoError(t, res.FreeSubReservation(subB))
	require.NoError(t, p.FreeAddressSpaceReservation(res))
}

// TestCreateSubReservation_OutOfBoundsPanics documents the containment
// contract violation.
func TestCreateSubReservation_OutOfBoundsPanics(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 4)
	defer p.FreeAddressSpaceReservation(res)

	assert.Panics(t, func() {
		res.CreateSubReservation(res.Base()+2*testPage, 4*testPage, ReadWrite)
	})
}

// TestReservationAllocate_FixedSemantics maps at an exact address and
// checks that a colliding fixed mapping fails rather than relocating.
func TestReservationAllocate_FixedSemantics(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 8)

	target := res.Base() + 2*testPage
	require.NoError(t, res.Allocate(target, 2*testPage, ReadWrite))

	// Same spot again: occupied, fixed placement fails.
	err := res.Allocate(target, 2*testPage, ReadWrite)
	require.Error(t, err, "fixed placement at an occupied address must fail")

	require.NoError(t, res.Free(target, 2*testPage))
	require.NoError(t, p.FreeAddressSpaceReservation(res))
}

// TestFreeReservation_WithLiveMapping checks the destroy ordering
// contract: teardown fails while a mapping lives inside.
func TestFreeReservation_WithLiveMapping(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 8)

	require.NoError(t, res.Allocate(res.Base(), testPage, ReadWrite))

	err := p.FreeAddressSpaceReservation(res)
	require.Error(t, err, "reservation with a live mapping must not be destroyable")

	require.NoError(t, res.Free(res.Base(), testPage))
	require.NoError(t, p.FreeAddressSpaceReservation(res))
}

// TestFreeReservation_WithLiveSubReservation checks the same for a
// carved child.
func TestFreeReservation_WithLiveSubReservation(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 8)

	sub, err := res.CreateSubReservation(res.Base(), 4*testPage, ReadWrite)
	require.NoError(t, err)

	require.Error(t, p.FreeAddressSpaceReservation(res))
	require.NoError(t, res.FreeSubReservation(sub))
	require.NoError(t, p.FreeAddressSpaceReservation(res))
}

// TestReservation_ReleasedIsInert checks the release-exactly-once
// ownership model.
func TestReservation_ReleasedIsInert(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 4)

	require.NoError(t, p.FreeAddressSpaceReservation(res))

	assert.ErrorIs(t, p.FreeAddressSpaceReservation(res), ErrReleased)
	assert.ErrorIs(t, res.Allocate(res.Base(), testPage, ReadWrite), ErrReleased)
	assert.ErrorIs(t, res.SetPermissions(res.Base(), testPage, Read), ErrReleased)
	_, err := res.CreateSubReservation(res.Base(), testPage, Read)
	assert.ErrorIs(t, err, ErrReleased)
}

// TestReservationPageOps_RoundTrip maps, reprotects, discards and
// decommits inside a reservation.
func TestReservationPageOps_RoundTrip(t *testing.T) {
	p, _ := newTestProvider(t)
	res := newTestReservation(t, p, 8)

	addr := res.Base() + 4*testPage
	require.NoError(t, res.Allocate(addr, 2*testPage, ReadWrite))
	require.NoError(t, res.SetPermissions(addr, 2*testPage, Read))
	require.NoError(t, res.SetPermissions(addr, 2*testPage, ReadWrite))
	require.NoError(t, res.DiscardSystemPages(addr, 2*testPage))
	require.NoError(t, res.DecommitPages(addr, 2*testPage))
	require.NoError(t, res.Free(addr, 2*testPage))
	require.NoError(t, p.FreeAddressSpaceReservation(res))
}
