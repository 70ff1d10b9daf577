// Package dispatch assigns a day's eligible workers to buses and runs each
// bus as an independent unit.
//
// The Coordinator partitions the requested count across at most
// Fleet.UnitCeiling units of Fleet.UnitCapacity seats, opens a one-shot
// channel per unit, spawns every unit, then joins them all before returning.
//
// Unit lifecycle:
//   - Spawned: created with its Assignment and the send end of its channel
//   - Departing: runs the Departer (log line or external hook)
//   - Reporting: sends its headcount, closes the send end, raises Notify
//   - Terminated: exits
//
// Channel protocol:
//   - One Send and one Receive per channel; anything more is ErrChannelClosed
//   - The coordinator waits on Notified before calling Receive
//   - Channels are keyed "<run_id>/<unit_id>" so concurrent runs never collide
//   - A run ID is held by one dispatch at a time and may not contain '/'
//   - Teardown releases the channels that dispatch opened on all exit paths
//
// Error handling:
//   - Bad counts or a run ID in use → ErrInvalidRequest, nothing is created
//   - Over fleet or day ceiling → ErrCapacityExceeded, nothing is created
//   - Spawn refused, unit lost, join timeout → *UnitError matching
//     ErrDispatchFailure; the partial Outcome is still returned
package dispatch
