package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mattjoyce/busdispatch/internal/roster"
)

// UnitState is a step in a unit's lifecycle.
type UnitState int32

const (
	StateSpawned UnitState = iota
	StateDeparting
	StateReporting
	StateTerminated
)

func (s UnitState) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateDeparting:
		return "departing"
	case StateReporting:
		return "reporting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unit_state(%d)", int32(s))
	}
}

// Assignment is the slice of workers handed to one unit. Units treat it as
// read-only.
type Assignment struct {
	RunID    string                  `json:"run_id"`
	UnitID   int                     `json:"unit_id"`
	Day      string                  `json:"day"`
	Workers  []roster.EligibleWorker `json:"workers"`
	Capacity int                     `json:"capacity"`
}

// Size is the number of workers assigned.
func (a Assignment) Size() int { return len(a.Workers) }

// Names lists the assigned worker names in order.
func (a Assignment) Names() []string {
	names := make([]string, len(a.Workers))
	for i, w := range a.Workers {
		names[i] = w.Name
	}
	return names
}

// Report is what a unit hands back: how many workers actually travelled.
type Report struct {
	UnitID    int `json:"unit_id"`
	Assigned  int `json:"assigned"`
	Headcount int `json:"headcount"`
}

// Departer performs a unit's departure and returns the number of workers
// that actually left. An error means the departure could not be confirmed;
// the unit then reports its assignment size.
type Departer interface {
	Depart(ctx context.Context, a Assignment) (int, error)
}

// Unit is one bus: it departs with its assignment, writes its headcount to
// its channel, closes the channel and raises its completion notification.
type Unit struct {
	assignment Assignment
	tx         *Sender
	departer   Departer
	logger     *slog.Logger

	state atomic.Int32
	done  chan struct{}
}

// NewUnit creates a unit in the Spawned state.
func NewUnit(a Assignment, tx *Sender, d Departer, logger *slog.Logger) *Unit {
	u := &Unit{
		assignment: a,
		tx:         tx,
		departer:   d,
		logger:     logger.With("unit_id", a.UnitID),
		done:       make(chan struct{}),
	}
	u.state.Store(int32(StateSpawned))
	return u
}

// ID returns the unit number, starting at 1.
func (u *Unit) ID() int { return u.assignment.UnitID }

// Assignment returns the unit's assignment.
func (u *Unit) Assignment() Assignment { return u.assignment }

// State returns the current lifecycle state.
func (u *Unit) State() UnitState { return UnitState(u.state.Load()) }

// Done is closed when the unit reaches Terminated.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Run executes the unit to termination. It is the body handed to a Spawner
// and must be called at most once.
func (u *Unit) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			// Close without a value so the coordinator sees ErrPeerGone.
			u.logger.Error("unit panicked", "panic", r)
			_ = u.tx.Close()
			_ = u.tx.Notify()
		}
		u.setState(StateTerminated)
		close(u.done)
	}()

	u.setState(StateDeparting)
	headcount := u.depart(ctx)

	u.setState(StateReporting)
	if err := u.tx.Send(headcount); err != nil {
		u.logger.Warn("report not delivered", "error", err)
	}
	if err := u.tx.Close(); err != nil {
		u.logger.Warn("close sender failed", "error", err)
	}
	// Raised only after the payload is written and the send end is closed.
	if err := u.tx.Notify(); err != nil {
		u.logger.Warn("completion notification failed", "error", err)
	}
}

func (u *Unit) depart(ctx context.Context) int {
	size := u.assignment.Size()
	if u.departer == nil {
		return size
	}

	n, err := u.departer.Depart(ctx, u.assignment)
	if err != nil {
		u.logger.Warn("departure not confirmed, reporting assignment size", "error", err, "assigned", size)
		return size
	}
	switch {
	case n < 0:
		u.logger.Warn("negative headcount clamped to zero", "headcount", n)
		return 0
	case n > size:
		u.logger.Warn("headcount above assignment clamped", "headcount", n, "assigned", size)
		return size
	}
	return n
}

func (u *Unit) setState(s UnitState) {
	u.state.Store(int32(s))
	u.logger.Debug("unit state", "state", s.String())
}

// LogDeparter announces a departure in the log and reports the full
// assignment.
type LogDeparter struct {
	Logger *slog.Logger
}

func (d LogDeparter) Depart(_ context.Context, a Assignment) (int, error) {
	if d.Logger != nil {
		d.Logger.Info("unit departing", "unit_id", a.UnitID, "day", a.Day, "workers", a.Names())
	}
	return a.Size(), nil
}
