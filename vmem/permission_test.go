package vmem

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

// TestProtectionFlags_Mapping checks the permission-to-bits table.
func TestProtectionFlags_Mapping(t *testing.T) {
	tests := []struct {
		perm Permission
		want kern.VMFlags
	}{
		{NoAccess, 0},
		{NoAccessWillJitLater, 0},
		{Read, kern.PermRead},
		{ReadWrite, kern.PermRead | kern.PermWrite},
		{ReadExecute, kern.PermRead | kern.PermExecute},
		{ReadWriteExecute, kern.PermRead | kern.PermWrite | kern.PermExecute},
	}
	for _, tt := range tests {
		t.Run(tt.perm.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, protectionFlags(tt.perm))
			// Pure and deterministic.
			assert.Equal(t, protectionFlags(tt.perm), protectionFlags(tt.perm))
		})
	}
}

// TestProtectionFlags_NoAccessVariantsEqual pins the invariant that the
// will-JIT-later variant maps identically to plain no-access.
func TestProtectionFlags_NoAccessVariantsEqual(t *testing.T) {
	assert.Equal(t, protectionFlags(NoAccess), protectionFlags(NoAccessWillJitLater))
}

// TestProtectionFlags_ReadWriteExecuteSuperset checks that RWX covers
// the bits of every other permission.
func TestProtectionFlags_ReadWriteExecuteSuperset(t *testing.T) {
	all := protectionFlags(ReadWriteExecute)
	perms := []Permission{NoAccess, NoAccessWillJitLater, Read, ReadWrite, ReadExecute, ReadWriteExecute}
	for _, p := range perms {
		bits := protectionFlags(p)
		assert.Equal(t, bits, bits&all, "%s bits must be a subset of ReadWriteExecute", p)
	}
}

// TestProtectionFlags_InvalidPanics documents that unknown enum values
// are a programming error.
func TestProtectionFlags_InvalidPanics(t *testing.T) {
	assert.Panics(t, func() { protectionFlags(Permission(42)) })
}
