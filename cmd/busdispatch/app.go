package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattjoyce/busdispatch/internal/config"
	"github.com/mattjoyce/busdispatch/internal/dayrun"
	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/events"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/log"
	"github.com/mattjoyce/busdispatch/internal/roster"
	"github.com/mattjoyce/busdispatch/internal/storage"
)

// app is the wired set of components shared by the service and the CLI.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	roster *roster.Store
	ledger *ledger.Ledger
	hub    *events.Hub
	coord  *dispatch.Coordinator
	days   *dayrun.Service
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.State.Path, err)
	}

	a := &app{
		cfg:    cfg,
		db:     db,
		roster: roster.NewStore(db),
		ledger: ledger.New(db),
		hub:    events.NewHub(256),
	}
	a.coord = newCoordinator(cfg, a.hub)
	a.days = dayrun.New(a.roster, a.coord, a.ledger, log.WithComponent("dayrun"))
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// newCoordinator builds the dispatch coordinator described by cfg.
func newCoordinator(cfg *config.Config, pub dispatch.Publisher) *dispatch.Coordinator {
	opts := dispatch.Options{
		Fleet: dispatch.Fleet{
			UnitCapacity:     cfg.Fleet.UnitCapacity,
			UnitCeiling:      cfg.Fleet.UnitCeiling,
			DayWorkerCeiling: cfg.Fleet.DayWorkerCeiling,
		},
		JoinOrder:   dispatch.JoinOrder(cfg.Dispatch.JoinOrder),
		JoinTimeout: cfg.Dispatch.JoinTimeout,
	}
	options := []dispatch.Option{
		dispatch.WithPublisher(pub),
		dispatch.WithSpawner(dispatch.NewGoroutineSpawner(cfg.Dispatch.MaxLiveUnits)),
	}
	if h := cfg.Dispatch.DepartureHook; h != nil {
		options = append(options, dispatch.WithDeparter(dispatch.HookDeparter{
			Command: h.Command,
			Args:    h.Args,
			Timeout: h.Timeout,
			Logger:  log.WithComponent("departure_hook"),
		}))
	}
	return dispatch.New(opts, options...)
}
