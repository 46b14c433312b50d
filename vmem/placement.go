package vmem

// PlacementMode selects how an address hint is interpreted.
type PlacementMode int

const (
	// PlacementAnywhere lets the kernel pick any free range.
	PlacementAnywhere PlacementMode = iota

	// PlacementUseHint tries the hinted address first and falls back
	// to kernel-chosen placement if the spot is taken.
	PlacementUseHint

	// PlacementFixed requires the hinted address exactly; a collision
	// is a failure, never a relocation.
	PlacementFixed
)

// String returns the mode name for diagnostics.
func (m PlacementMode) String() string {
	switch m {
	case PlacementAnywhere:
		return "Anywhere"
	case PlacementUseHint:
		return "UseHint"
	case PlacementFixed:
		return "Fixed"
	default:
		return "PlacementMode(invalid)"
	}
}

// resolvePlacement computes the region-relative offset for a placement
// request. For PlacementAnywhere the offset is zero and the specific
// flag is unset. For the other modes the hint must lie at or above the
// region base; the difference UseHint/Fixed is purely the caller's
// retry policy, not the offset computation.
func resolvePlacement(hint, regionBase uintptr, mode PlacementMode) (offset uintptr, specific bool) {
	if mode == PlacementAnywhere {
		return 0, false
	}
	if hint < regionBase {
		panic("vmem: placement hint below region base")
	}
	return hint - regionBase, true
}
