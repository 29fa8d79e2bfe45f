package sync

// AvailableFocusSlots returns how many focus slots remain for a day
// given the org limit and the count of focus tasks already occupying
// slots. Never negative: an over-full day yields zero, not an error.
func AvailableFocusSlots(limit, existing int) int {
	if existing >= limit {
		return 0
	}
	return limit - existing
}
