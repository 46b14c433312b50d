package vmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behnood-eghbali/vmemkit/internal/simkern"
)

const testPage = 4096

// newTestProvider builds a provider over a fresh simulated kernel.
func newTestProvider(t *testing.T) (*Provider, *simkern.Kernel) {
	t.Helper()
	k := simkern.New()
	p, err := New(k)
	require.NoError(t, err, "New should succeed on simkern")
	return p, k
}

// TestNew_QueriesKernelOnce checks the process-lifetime configuration.
func TestNew_QueriesKernelOnce(t *testing.T) {
	p, k := newTestProvider(t)

	assert.Equal(t, k.PageSize(), p.AllocatePageSize())
	assert.Equal(t, k.PageSize(), p.CommitPageSize())
	assert.True(t, p.CanReserveAddressSpace())
	assert.True(t, p.HasLazyCommits())
}

// TestAllocate_Anywhere checks kernel-chosen placement with an
// alignment above the page size.
func TestAllocate_Anywhere(t *testing.T) {
	p, _ := newTestProvider(t)

	const align = 1 << 16
	addr, err := p.Allocate(0, 4*testPage, align, ReadWrite)
	require.NoError(t, err, "Allocate should succeed")
	require.NotZero(t, addr)
	assert.Zero(t, addr%align, "result must honor the requested alignment")

	require.NoError(t, p.Free(addr, 4*testPage))
}

// TestAllocate_RoundTrip exercises the allocate / reprotect / free /
// double-free sequence end to end.
func TestAllocate_RoundTrip(t *testing.T) {
	p, _ := newTestProvider(t)

	addr, err := p.Allocate(0, testPage, testPage, ReadWrite)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, p.SetPermissions(addr, testPage, NoAccess))
	require.NoError(t, p.Free(addr, testPage))

	err = p.Free(addr, testPage)
	require.Error(t, err, "freeing an already unmapped range must fail")
}

// TestAllocate_UseHintOccupiedFallsBack checks the single-retry hint
// policy: a taken hint must not fail the allocation.
func TestAllocate_UseHintOccupiedFallsBack(t *testing.T) {
	p, _ := newTestProvider(t)

	first, err := p.Allocate(0, testPage, testPage, ReadWrite)
	require.NoError(t, err)

	// Hint at the occupied page.
	second, err := p.Allocate(first, testPage, testPage, ReadWrite)
	require.NoError(t, err, "hinted allocation must fall back, not fail")
	require.NotZero(t, second)
	assert.NotEqual(t, first, second, "fallback must pick a different range")
	assert.Zero(t, second%testPage)

	require.NoError(t, p.Free(first, testPage))
	require.NoError(t, p.Free(second, testPage))
}

// TestAllocate_HonoredHint checks that a free hinted spot is used
// exactly.
func TestAllocate_HonoredHint(t *testing.T) {
	p, _ := newTestProvider(t)

	first, err := p.Allocate(0, testPage, testPage, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, p.Free(first, testPage))

	// The range is free again; the hint should be honored as-is.
	second, err := p.Allocate(first, testPage, testPage, ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestRelease_AliasesFree checks that Release unmaps like Free.
func TestRelease_AliasesFree(t *testing.T) {
	p, _ := newTestProvider(t)

	addr, err := p.Allocate(0, testPage, testPage, Read)
	require.NoError(t, err)
	require.NoError(t, p.Release(addr, testPage))
	require.Error(t, p.Free(addr, testPage))
}

// TestSetPermissions_UnmappedRangeFails checks reprotect against a
// range that holds no mapping.
func TestSetPermissions_UnmappedRangeFails(t *testing.T) {
	p, k := newTestProvider(t)

	unmapped := k.RootRegion().Base() + 64*testPage
	require.Error(t, p.SetPermissions(unmapped, testPage, Read))
}

// TestContractViolations_Panic checks the fatal-assertion class of
// errors: misalignment and unsupported alignment are never reported as
// recoverable failures.
func TestContractViolations_Panic(t *testing.T) {
	p, _ := newTestProvider(t)

	assert.Panics(t, func() { p.Allocate(0, testPage+1, testPage, Read) },
		"size not a page multiple")
	assert.Panics(t, func() { p.Allocate(0, testPage, testPage/2, Read) },
		"alignment not a page multiple")
	assert.Panics(t, func() { p.Allocate(0, testPage, 3*testPage, Read) },
		"alignment a page multiple but not a supported power of two")
	assert.Panics(t, func() { p.Free(testPage+3, testPage) },
		"misaligned free address")
	assert.Panics(t, func() { p.Free(0x10000, 0) },
		"zero-size range")
}

// TestUnsupportedOperations documents the explicit not-implemented
// surface of this backend.
func TestUnsupportedOperations(t *testing.T) {
	p, _ := newTestProvider(t)

	assert.Panics(t, func() { p.SharedLibraryAddresses() })
	assert.Panics(t, func() { p.SignalCodeMovingGC() })
	assert.Empty(t, p.FreeMemoryRangesWithin(0, 1<<40, testPage, testPage),
		"free-range scan reports none rather than failing")
}
