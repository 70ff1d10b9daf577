package dayrun

import (
	"context"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

//go:generate mockgen -destination=mocks/mock_dayrun.go -package=mocks github.com/mattjoyce/busdispatch/internal/dayrun RosterProvider,RunRecorder

// RosterProvider supplies the workers eligible on a day, in roster order.
type RosterProvider interface {
	Eligible(ctx context.Context, day string) ([]roster.EligibleWorker, error)
}

// RunRecorder persists the outcome of a dispatch attempt.
type RunRecorder interface {
	Record(ctx context.Context, run ledger.Run) error
}

// Dispatcher runs one dispatch. *dispatch.Coordinator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error)
}
