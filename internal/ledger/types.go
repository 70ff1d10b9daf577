package ledger

import (
	"errors"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusRejected  Status = "rejected"
)

// Run is one recorded dispatch.
type Run struct {
	ID              string     `json:"id"`
	Day             string     `json:"day"`
	Requested       int        `json:"requested"`
	TotalDispatched int        `json:"total_dispatched"`
	Status          Status     `json:"status"`
	LastError       *string    `json:"last_error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Units           []Unit     `json:"units"`
}

// Unit is one bus within a run. Headcount is nil when the unit never reported.
type Unit struct {
	UnitID    int     `json:"unit_id"`
	Assigned  int     `json:"assigned"`
	Headcount *int    `json:"headcount,omitempty"`
	Failure   *string `json:"failure,omitempty"`
}

var ErrRunNotFound = errors.New("run not found")
