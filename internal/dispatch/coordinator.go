package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/busdispatch/internal/log"
	"github.com/mattjoyce/busdispatch/internal/metrics"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

// JoinOrder selects how the coordinator walks spawned units.
type JoinOrder string

const (
	// JoinSpawnOrder joins unit 1, then unit 2, and so on.
	JoinSpawnOrder JoinOrder = "spawn"
	// JoinCompletionOrder joins units as their notifications arrive.
	JoinCompletionOrder JoinOrder = "completion"
)

// Run statuses recorded in metrics and the ledger.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusRejected  = "rejected"
)

// Fleet is the fixed shape of the transport pool.
type Fleet struct {
	UnitCapacity     int
	UnitCeiling      int
	DayWorkerCeiling int
}

// DefaultFleet is two buses of five seats, ten workers a day.
func DefaultFleet() Fleet {
	return Fleet{UnitCapacity: 5, UnitCeiling: 2, DayWorkerCeiling: 10}
}

// Options configure a Coordinator.
type Options struct {
	Fleet       Fleet
	JoinOrder   JoinOrder
	JoinTimeout time.Duration
}

// Publisher receives dispatch lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Request asks for Count workers from Eligible to be dispatched on Day.
// RunID is generated when empty. A caller-chosen RunID must not contain '/'
// and must not belong to a dispatch still in flight.
type Request struct {
	RunID    string
	Day      string
	Eligible []roster.EligibleWorker
	Count    int
}

// Failure records a unit that did not report.
type Failure struct {
	UnitID   int    `json:"unit_id"`
	Assigned int    `json:"assigned"`
	Reason   string `json:"reason"`
}

// UnitEvent is published when a unit reports or fails.
type UnitEvent struct {
	RunID string `json:"run_id"`
	Report
	Error string `json:"error,omitempty"`
}

// Outcome is the result of one dispatch. PerUnit is in unit order.
type Outcome struct {
	RunID           string    `json:"run_id"`
	Day             string    `json:"day"`
	Requested       int       `json:"requested"`
	TotalDispatched int       `json:"total_dispatched"`
	PerUnit         []Report  `json:"per_unit"`
	Failures        []Failure `json:"failures,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Status summarises the outcome for metrics and the ledger.
func (o *Outcome) Status() string {
	if len(o.Failures) > 0 {
		return StatusPartial
	}
	return StatusSucceeded
}

// Coordinator partitions a request across units, runs them concurrently and
// joins every one of them before returning.
type Coordinator struct {
	opts      Options
	registry  *ChannelRegistry
	spawner   Spawner
	departer  Departer
	publisher Publisher
	logger    *slog.Logger
	newRunID  func() string
}

// Option customises a Coordinator.
type Option func(*Coordinator)

func WithRegistry(r *ChannelRegistry) Option { return func(c *Coordinator) { c.registry = r } }
func WithSpawner(s Spawner) Option { return func(c *Coordinator) { c.spawner = s } }
func WithDeparter(d Departer) Option { return func(c *Coordinator) { c.departer = d } }
func WithPublisher(p Publisher) Option { return func(c *Coordinator) { c.publisher = p } }
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }
func WithRunIDs(next func() string) Option { return func(c *Coordinator) { c.newRunID = next } }

// New creates a Coordinator. Without options it spawns goroutines, logs
// departures and uses a private channel registry.
func New(opts Options, options ...Option) *Coordinator {
	if opts.JoinOrder == "" {
		opts.JoinOrder = JoinSpawnOrder
	}
	c := &Coordinator{
		opts:     opts,
		registry: NewChannelRegistry(),
		spawner:  NewGoroutineSpawner(0),
		logger:   log.WithComponent("dispatch"),
		newRunID: uuid.NewString,
	}
	for _, o := range options {
		o(c)
	}
	if c.departer == nil {
		c.departer = LogDeparter{Logger: c.logger}
	}
	return c
}

// Registry exposes the channel registry, mainly for leak checks.
func (c *Coordinator) Registry() *ChannelRegistry { return c.registry }

// Fleet returns the configured fleet shape.
func (c *Coordinator) Fleet() Fleet { return c.opts.Fleet }

type launched struct {
	unit *Unit
	rx   *Receiver
}

// opened tracks the receivers one dispatch created, so teardown touches
// nothing that belongs to another run.
type opened struct {
	receivers []*Receiver
}

func (o *opened) add(rx *Receiver) { o.receivers = append(o.receivers, rx) }

func (o *opened) release() int {
	n := 0
	for _, rx := range o.receivers {
		if rx.release() {
			n++
		}
	}
	return n
}

// Dispatch runs one day's dispatch. Request errors (ErrInvalidRequest,
// ErrCapacityExceeded) are returned before any channel or unit exists.
// If some units fail, the outcome holds every report that was collected
// and the error matches ErrDispatchFailure.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	fleet := c.opts.Fleet
	if fleet.DayWorkerCeiling > 0 && req.Count > fleet.DayWorkerCeiling {
		metrics.RunsTotal.WithLabelValues(StatusRejected).Inc()
		return nil, fmt.Errorf("%w: requested %d exceeds day ceiling %d",
			ErrCapacityExceeded, req.Count, fleet.DayWorkerCeiling)
	}
	sizes, err := Partition(len(req.Eligible), req.Count, fleet.UnitCapacity, fleet.UnitCeiling)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(StatusRejected).Inc()
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = c.newRunID()
	}
	if err := c.registry.claim(runID); err != nil {
		metrics.RunsTotal.WithLabelValues(StatusRejected).Inc()
		return nil, err
	}
	defer c.registry.unclaim(runID)

	logger := log.WithRun(c.logger, runID, req.Day)
	out := &Outcome{
		RunID:     runID,
		Day:       req.Day,
		Requested: req.Count,
		PerUnit:   make([]Report, 0, len(sizes)),
		StartedAt: time.Now().UTC(),
	}

	// Teardown runs on every exit path, panics included.
	own := &opened{}
	defer func() {
		if n := own.release(); n > 0 {
			logger.Warn("released abandoned channels", "count", n)
		}
	}()

	logger.Info("dispatch started", "requested", req.Count, "partition", sizes)
	c.publish("dispatch.started", map[string]any{"run_id": runID, "day": req.Day, "partition": sizes})

	units, unitErrs := c.spawnAll(ctx, runID, req, sizes, own, logger)
	for _, ue := range unitErrs {
		out.Failures = append(out.Failures, failureFor(ue, sizes))
	}

	joinCtx := ctx
	if c.opts.JoinTimeout > 0 {
		var cancel context.CancelFunc
		joinCtx, cancel = context.WithTimeout(ctx, c.opts.JoinTimeout)
		defer cancel()
	}

	var reports []Report
	var joinErrs []*UnitError
	if c.opts.JoinOrder == JoinCompletionOrder {
		reports, joinErrs = c.joinByCompletion(joinCtx, units, logger)
	} else {
		reports, joinErrs = c.joinInOrder(joinCtx, units, logger)
	}
	for _, ue := range joinErrs {
		out.Failures = append(out.Failures, failureFor(ue, sizes))
	}
	unitErrs = append(unitErrs, joinErrs...)

	slices.SortFunc(reports, func(a, b Report) int { return a.UnitID - b.UnitID })
	slices.SortFunc(out.Failures, func(a, b Failure) int { return a.UnitID - b.UnitID })
	out.PerUnit = append(out.PerUnit, reports...)
	for _, r := range reports {
		out.TotalDispatched += r.Headcount
	}
	out.CompletedAt = time.Now().UTC()

	status := out.Status()
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.WorkersDispatched.Add(float64(out.TotalDispatched))
	c.publish("dispatch.completed", out)
	logger.Info("dispatch completed",
		"status", status,
		"total_dispatched", out.TotalDispatched,
		"units_reported", len(out.PerUnit),
		"units_failed", len(out.Failures))

	if len(unitErrs) > 0 {
		errs := make([]error, len(unitErrs))
		for i, ue := range unitErrs {
			errs[i] = ue
		}
		return out, errors.Join(errs...)
	}
	return out, nil
}

// spawnAll opens a channel and spawns a unit per partition entry. Units
// that cannot be opened or spawned are reported as errors and never joined.
func (c *Coordinator) spawnAll(ctx context.Context, runID string, req Request, sizes []int, own *opened, logger *slog.Logger) ([]launched, []*UnitError) {
	// Units outlive a cancelled caller; abandoned ones are released in teardown.
	unitCtx := context.WithoutCancel(ctx)

	units := make([]launched, 0, len(sizes))
	var errs []*UnitError
	offset := 0
	for i, size := range sizes {
		a := Assignment{
			RunID:    runID,
			UnitID:   i + 1,
			Day:      req.Day,
			Workers:  slices.Clone(req.Eligible[offset : offset+size]),
			Capacity: c.opts.Fleet.UnitCapacity,
		}
		offset += size

		tx, rx, err := c.registry.Open(runID, a.UnitID)
		if err != nil {
			errs = append(errs, c.unitFailed(runID, a.UnitID, size, err, logger))
			continue
		}
		own.add(rx)

		u := NewUnit(a, tx, c.departer, logger)
		if err := c.spawner.Spawn(unitCtx, u); err != nil {
			_ = rx.Close()
			errs = append(errs, c.unitFailed(runID, a.UnitID, size, err, logger))
			continue
		}

		metrics.UnitsSpawned.Inc()
		logger.Info("unit spawned", "unit_id", a.UnitID, "assigned", size, "channel", rx.Key())
		c.publish("unit.spawned", map[string]any{"run_id": runID, "unit_id": a.UnitID, "assigned": size})
		units = append(units, launched{unit: u, rx: rx})
	}
	return units, errs
}

func (c *Coordinator) joinInOrder(ctx context.Context, units []launched, logger *slog.Logger) ([]Report, []*UnitError) {
	reports := make([]Report, 0, len(units))
	var errs []*UnitError
	for _, l := range units {
		r, err := c.join(ctx, l, logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errs
}

func (c *Coordinator) joinByCompletion(ctx context.Context, units []launched, logger *slog.Logger) ([]Report, []*UnitError) {
	ready := make(chan int, len(units))
	for i, l := range units {
		go func() {
			select {
			case <-l.rx.Notified():
			case <-ctx.Done():
			}
			ready <- i
		}()
	}

	reports := make([]Report, 0, len(units))
	var errs []*UnitError
	for range units {
		i := <-ready
		r, err := c.join(ctx, units[i], logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errs
}

// join waits for one unit's notification, then reads and closes its channel.
func (c *Coordinator) join(ctx context.Context, l launched, logger *slog.Logger) (Report, *UnitError) {
	id := l.unit.ID()
	runID := l.unit.Assignment().RunID
	assigned := l.unit.Assignment().Size()

	select {
	case <-l.rx.Notified():
	default:
		select {
		case <-l.rx.Notified():
		case <-ctx.Done():
			// Receiver is released by teardown; the unit's send fails fast.
			return Report{}, c.unitFailed(runID, id, assigned, fmt.Errorf("%w: %v", ErrJoinTimeout, ctx.Err()), logger)
		}
	}

	// The notification guarantees the payload is written or the sender is
	// gone, so the read cannot block.
	headcount, err := l.rx.Receive(context.WithoutCancel(ctx))
	if cerr := l.rx.Close(); cerr != nil {
		logger.Warn("close receiver failed", "unit_id", id, "error", cerr)
	}
	if err != nil {
		return Report{}, c.unitFailed(runID, id, assigned, err, logger)
	}

	r := Report{UnitID: id, Assigned: assigned, Headcount: headcount}
	if headcount != assigned {
		logger.Warn("unit headcount differs from assignment", "unit_id", id, "assigned", assigned, "headcount", headcount)
	}
	logger.Info("unit joined", "unit_id", id, "headcount", headcount)
	c.publish("unit.reported", UnitEvent{RunID: runID, Report: r})
	return r, nil
}

func (c *Coordinator) unitFailed(runID string, unitID, assigned int, err error, logger *slog.Logger) *UnitError {
	metrics.UnitsFailed.Inc()
	logger.Error("unit failed", "unit_id", unitID, "error", err)
	c.publish("unit.failed", UnitEvent{
		RunID:  runID,
		Report: Report{UnitID: unitID, Assigned: assigned},
		Error:  err.Error(),
	})
	return &UnitError{UnitID: unitID, Err: err}
}

func (c *Coordinator) publish(eventType string, data any) {
	if c.publisher != nil {
		c.publisher.Publish(eventType, data)
	}
}

func failureFor(ue *UnitError, sizes []int) Failure {
	f := Failure{UnitID: ue.UnitID, Reason: ue.Err.Error()}
	if ue.UnitID >= 1 && ue.UnitID <= len(sizes) {
		f.Assigned = sizes[ue.UnitID-1]
	}
	return f
}
