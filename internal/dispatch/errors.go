package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for a negative requested count, a count
	// above the eligible pool, or a non-positive fleet shape.
	ErrInvalidRequest = errors.New("invalid dispatch request")

	// ErrCapacityExceeded is returned when the request cannot fit the fleet
	// (unit capacity * unit ceiling) or the day ceiling.
	ErrCapacityExceeded = errors.New("dispatch capacity exceeded")

	// ErrDispatchFailure marks a dispatch in which at least one unit could not
	// run to completion.
	ErrDispatchFailure = errors.New("dispatch failure")

	// ErrChannelClosed is channel misuse: a second send, a second receive,
	// or any use after close. It indicates a defect in the caller.
	ErrChannelClosed = errors.New("dispatch channel closed")

	// ErrPeerGone is returned by a receive whose sender closed without
	// writing a value.
	ErrPeerGone = errors.New("dispatch channel peer gone")

	// ErrSpawnRefused is returned by a Spawner that has no room for another unit.
	ErrSpawnRefused = errors.New("unit spawn refused")

	// ErrJoinTimeout is returned when the coordinator gives up waiting on a unit.
	ErrJoinTimeout = errors.New("unit join timed out")
)

// UnitError ties a failure to the unit it happened on.
type UnitError struct {
	UnitID int
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.UnitID, e.Err)
}

// Unwrap exposes both the dispatch failure class and the cause, so that
// errors.Is matches ErrDispatchFailure as well as e.g. ErrSpawnRefused.
func (e *UnitError) Unwrap() []error {
	return []error{ErrDispatchFailure, e.Err}
}
