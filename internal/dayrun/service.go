// Package dayrun starts a day: it pulls the day's eligible workers from the
// roster, hands them to the dispatch coordinator and records what happened.
package dayrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/log"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

// Service is the "start day" use case.
type Service struct {
	roster     RosterProvider
	dispatcher Dispatcher
	recorder   RunRecorder
	logger     *slog.Logger
	newRunID   func() string
	now        func() time.Time
}

// New creates a Service. A nil logger uses the dayrun component logger.
func New(rp RosterProvider, d Dispatcher, rec RunRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = log.WithComponent("dayrun")
	}
	return &Service{
		roster:     rp,
		dispatcher: d,
		recorder:   rec,
		logger:     logger,
		newRunID:   uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Eligible returns the workers eligible on day.
func (s *Service) Eligible(ctx context.Context, day string) ([]roster.EligibleWorker, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		return nil, fmt.Errorf("%w: day is empty", dispatch.ErrInvalidRequest)
	}
	workers, err := s.roster.Eligible(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load roster for %s: %w", day, err)
	}
	return workers, nil
}

// StartDay dispatches count workers eligible on day. Rejected requests
// return a nil outcome. Partial dispatches return the outcome together with
// an error matching dispatch.ErrDispatchFailure. Every attempt that reaches
// the coordinator, or is rejected before it, is recorded in the ledger.
func (s *Service) StartDay(ctx context.Context, day string, count int) (*dispatch.Outcome, error) {
	runID := s.newRunID()
	logger := log.WithRun(s.logger, runID, day)
	started := s.now()

	day = strings.TrimSpace(day)
	if day == "" {
		err := fmt.Errorf("%w: day is empty", dispatch.ErrInvalidRequest)
		return nil, errors.Join(err, s.recordRejected(ctx, runID, day, count, started, err, logger))
	}

	eligible, err := s.roster.Eligible(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load roster for %s: %w", day, err)
	}
	logger.Info("starting day", "eligible", len(eligible), "requested", count)

	out, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		RunID:    runID,
		Day:      day,
		Eligible: eligible,
		Count:    count,
	})
	if out == nil {
		if err == nil {
			err = fmt.Errorf("dispatch returned no outcome")
		}
		logger.Warn("day rejected", "error", err)
		return nil, errors.Join(err, s.recordRejected(ctx, runID, day, count, started, err, logger))
	}

	run := runFromOutcome(out, err)
	if recErr := s.recorder.Record(ctx, run); recErr != nil {
		logger.Error("failed to record run", "error", recErr)
		return out, errors.Join(err, fmt.Errorf("record run %s: %w", out.RunID, recErr))
	}
	logger.Info("day dispatched", "status", run.Status, "total_dispatched", out.TotalDispatched)
	return out, err
}

func (s *Service) recordRejected(ctx context.Context, runID, day string, count int, started time.Time, cause error, logger *slog.Logger) error {
	msg := cause.Error()
	completed := s.now()
	err := s.recorder.Record(ctx, ledger.Run{
		ID:          runID,
		Day:         day,
		Requested:   count,
		Status:      ledger.StatusRejected,
		LastError:   &msg,
		StartedAt:   started,
		CompletedAt: &completed,
	})
	if err != nil {
		logger.Error("failed to record rejected run", "error", err)
		return fmt.Errorf("record run %s: %w", runID, err)
	}
	return nil
}

// runFromOutcome flattens an outcome into its ledger row. Units that reported
// carry a headcount; failed units carry the failure reason.
func runFromOutcome(out *dispatch.Outcome, dispatchErr error) ledger.Run {
	completed := out.CompletedAt
	run := ledger.Run{
		ID:              out.RunID,
		Day:             out.Day,
		Requested:       out.Requested,
		TotalDispatched: out.TotalDispatched,
		Status:          ledger.Status(out.Status()),
		StartedAt:       out.StartedAt,
		CompletedAt:     &completed,
		Units:           make([]ledger.Unit, 0, len(out.PerUnit)+len(out.Failures)),
	}
	if dispatchErr != nil {
		msg := dispatchErr.Error()
		run.LastError = &msg
	}
	for _, r := range out.PerUnit {
		headcount := r.Headcount
		run.Units = append(run.Units, ledger.Unit{
			UnitID:    r.UnitID,
			Assigned:  r.Assigned,
			Headcount: &headcount,
		})
	}
	for _, f := range out.Failures {
		reason := f.Reason
		run.Units = append(run.Units, ledger.Unit{
			UnitID:   f.UnitID,
			Assigned: f.Assigned,
			Failure:  &reason,
		})
	}
	return run
}
