package api

import (
	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/events"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

// StartDayRequest is the JSON body for POST /day/{day}/start.
type StartDayRequest struct {
	Count *int `json:"count" validate:"required,gte=0"`
}

// StartDayResponse wraps the dispatch outcome. On a partial dispatch the
// outcome is still present and Error names the failed units.
type StartDayResponse struct {
	Status string `json:"status"`
	*dispatch.Outcome
	Error string `json:"error,omitempty"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs []*ledger.Run `json:"runs"`
}

// RosterResponse is returned by GET /roster/{day}.
type RosterResponse struct {
	Day     string                  `json:"day"`
	Count   int                     `json:"count"`
	Workers []roster.EligibleWorker `json:"workers"`
}

// EventListResponse is returned by GET /events.
type EventListResponse struct {
	Events []events.Event `json:"events"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OpenChannels  int    `json:"open_channels"`
}
