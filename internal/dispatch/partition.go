package dispatch

import "fmt"

// Partition splits requested workers across at most unitCeiling units of
// unitCapacity each. Units are filled in order; trailing empty units are not
// returned, so a zero request yields an empty partition.
func Partition(eligibleCount, requestedCount, unitCapacity, unitCeiling int) ([]int, error) {
	if unitCapacity <= 0 || unitCeiling <= 0 {
		return nil, fmt.Errorf("%w: unit capacity %d and unit ceiling %d must be positive",
			ErrInvalidRequest, unitCapacity, unitCeiling)
	}
	if requestedCount < 0 {
		return nil, fmt.Errorf("%w: requested count %d is negative", ErrInvalidRequest, requestedCount)
	}
	if requestedCount > eligibleCount {
		return nil, fmt.Errorf("%w: requested %d but only %d eligible",
			ErrInvalidRequest, requestedCount, eligibleCount)
	}
	if requestedCount > unitCapacity*unitCeiling {
		return nil, fmt.Errorf("%w: requested %d exceeds fleet capacity %d (%d units of %d)",
			ErrCapacityExceeded, requestedCount, unitCapacity*unitCeiling, unitCeiling, unitCapacity)
	}

	sizes := make([]int, 0, unitCeiling)
	remaining := requestedCount
	for remaining > 0 {
		n := min(remaining, unitCapacity)
		sizes = append(sizes, n)
		remaining -= n
	}
	return sizes, nil
}
