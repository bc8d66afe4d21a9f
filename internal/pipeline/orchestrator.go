// Package pipeline runs evaluation cycles: for every FC it assembles
// evidence, asks the risk oracle, plans contingencies and persists the
// outcome, streaming one row per FC as it completes.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fcsentinel/internal/evidence"
	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/oracle"
	"github.com/kalambet/fcsentinel/internal/planner"
	"github.com/kalambet/fcsentinel/internal/risk"
	"github.com/kalambet/fcsentinel/internal/storage"
)

const publishTimeout = 10 * time.Second

// Store is the persistence the orchestrator needs.
type Store interface {
	ListFCs(ctx context.Context) ([]storage.FulfillmentCenter, error)
	SaveVerdict(ctx context.Context, v storage.VerdictRecord) error
	SavePlan(ctx context.Context, p storage.PlanRecord) error
	UpdateFCRisk(ctx context.Context, id string, score float64, status, summary, reasoning string, at time.Time) error
	MarkFCFailed(ctx context.Context, id, summary, errMsg string, at time.Time) error
	AppendSnapshot(ctx context.Context, snap storage.RiskSnapshot) error
}

type EvidenceAssembler interface {
	AssembleEvidence(ctx context.Context, fc storage.FulfillmentCenter, now time.Time) evidence.Bundle
}

type Assessor interface {
	Assess(ctx context.Context, fc storage.FulfillmentCenter, b evidence.Bundle) oracle.Assessment
}

type ContingencyPlanner interface {
	Plan(ctx context.Context, fc storage.FulfillmentCenter, v risk.Verdict, fcs []storage.FulfillmentCenter) (planner.Plan, error)
}

// Publisher receives every row after it is emitted. Failures are logged
// and never fail the FC.
type Publisher interface {
	Publish(ctx context.Context, row Row) error
}

type Options struct {
	Workers   int // concurrent FC evaluations; values < 1 mean 1
	Publisher Publisher
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

type Orchestrator struct {
	store     Store
	evidence  EvidenceAssembler
	oracle    Assessor
	planner   ContingencyPlanner
	publisher Publisher
	metrics   *observability.Metrics
	clock     clockwork.Clock
	logger    *slog.Logger
	workers   int
}

// New wires an Orchestrator. metrics must not be nil.
func New(store Store, ev EvidenceAssembler, assessor Assessor, pl ContingencyPlanner, metrics *observability.Metrics, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		evidence:  ev,
		oracle:    assessor,
		planner:   pl,
		publisher: opts.Publisher,
		metrics:   metrics,
		clock:     opts.Clock,
		logger:    opts.Logger,
		workers:   opts.Workers,
	}
}

// Run evaluates every FC once. emit, if non-nil, is called once per FC as
// soon as it finishes; calls never overlap. A failing FC becomes an error
// row and the cycle carries on.
//
// If ctx is cancelled, FCs not yet started are skipped, FCs in flight run
// to completion, and Run returns the partial result with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, emit func(Row)) (Result, error) {
	res := Result{CycleID: uuid.New().String(), StartedAt: o.clock.Now(), Rows: []Row{}}
	if err := ctx.Err(); err != nil {
		o.metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		return res, err
	}

	fcs, err := o.store.ListFCs(ctx)
	if err != nil {
		o.metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("listing fulfillment centers: %w", err)
	}
	o.logger.Info("evaluation cycle started", "cycle_id", res.CycleID, "fcs", len(fcs), "workers", o.workers)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, fc := range fcs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			row := o.evaluate(context.WithoutCancel(ctx), res.CycleID, fc, fcs)

			mu.Lock()
			res.Rows = append(res.Rows, row)
			if row.Outcome == OutcomeOK {
				res.Evaluated++
			} else {
				res.Failed++
			}
			if emit != nil {
				emit(row)
			}
			mu.Unlock()

			o.publish(context.WithoutCancel(ctx), row)
			return nil
		})
	}
	_ = g.Wait()

	res.Skipped = len(fcs) - len(res.Rows)
	res.FinishedAt = o.clock.Now()
	SortRows(res.Rows)
	o.metrics.CycleDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	if err := ctx.Err(); err != nil {
		o.metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		o.logger.Warn("evaluation cycle cancelled", "cycle_id", res.CycleID, "skipped", res.Skipped)
		return res, err
	}
	o.metrics.CyclesTotal.WithLabelValues("completed").Inc()
	o.logger.Info("evaluation cycle finished", "cycle_id", res.CycleID,
		"evaluated", res.Evaluated, "failed", res.Failed, "duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

// evaluate never fails: errors and panics turn into an error row, which is
// also stored so the FC's latest state shows the failure.
func (o *Orchestrator) evaluate(ctx context.Context, cycleID string, fc storage.FulfillmentCenter, fcs []storage.FulfillmentCenter) Row {
	r, err := o.safeProcess(ctx, cycleID, fc, fcs)
	if err != nil {
		row := o.errorRow(cycleID, fc, err)
		o.persistFailure(ctx, row)
		return row
	}
	o.metrics.FCEvaluations.WithLabelValues("ok").Inc()
	return r
}

func (o *Orchestrator) safeProcess(ctx context.Context, cycleID string, fc storage.FulfillmentCenter, fcs []storage.FulfillmentCenter) (row Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.process(ctx, cycleID, fc, fcs)
}

func (o *Orchestrator) process(ctx context.Context, cycleID string, fc storage.FulfillmentCenter, fcs []storage.FulfillmentCenter) (Row, error) {
	now := o.clock.Now()

	bundle := o.evidence.AssembleEvidence(ctx, fc, now)
	a := o.oracle.Assess(ctx, fc, bundle)
	v := a.Verdict

	plan, err := o.planner.Plan(ctx, fc, v, fcs)
	if err != nil {
		return Row{}, fmt.Errorf("planning: %w", err)
	}
	for _, d := range plan.Decisions {
		o.metrics.PlanOutcomes.WithLabelValues(string(d.Outcome)).Inc()
	}

	if err := o.persist(ctx, cycleID, fc, a, plan, now); err != nil {
		return Row{}, err
	}

	return Row{
		CycleID:       cycleID,
		FCID:          fc.ID,
		FCName:        fc.Name,
		City:          fc.City,
		RiskScore:     v.Score,
		Status:        string(v.Status),
		Summary:       plan.Summary,
		Outcome:       OutcomeOK,
		EvaluatedAt:   now,
		ReasoningLink: ReasoningLink(fc.ID),
		PlanLink:      PlanLink(fc.ID),
	}, nil
}

func (o *Orchestrator) persist(ctx context.Context, cycleID string, fc storage.FulfillmentCenter, a oracle.Assessment, plan planner.Plan, now time.Time) error {
	v := a.Verdict
	classifications, err := json.Marshal(v.Classifications)
	if err != nil {
		return fmt.Errorf("encoding classifications: %w", err)
	}
	decisions, err := json.Marshal(plan.Decisions)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	var oracleErr string
	if a.Err != nil {
		oracleErr = a.Err.Error()
	}

	if err := o.store.SaveVerdict(ctx, storage.VerdictRecord{
		FCID:                fc.ID,
		Score:               v.Score,
		Status:              string(v.Status),
		Reasoning:           v.Reasoning,
		ClassificationsJSON: string(classifications),
		Prompt:              a.Prompt,
		RawReply:            a.Raw,
		OracleError:         oracleErr,
		EvaluatedAt:         now,
	}); err != nil {
		return fmt.Errorf("saving verdict: %w", err)
	}
	if err := o.store.SavePlan(ctx, storage.PlanRecord{
		FCID:          fc.ID,
		Summary:       plan.Summary,
		Gated:         plan.Gated,
		DecisionsJSON: string(decisions),
		EvaluatedAt:   now,
	}); err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	if err := o.store.UpdateFCRisk(ctx, fc.ID, v.Score, string(v.Status), plan.Summary, v.Reasoning, now); err != nil {
		return fmt.Errorf("updating risk fields: %w", err)
	}
	if err := o.store.AppendSnapshot(ctx, storage.RiskSnapshot{
		FCID:        fc.ID,
		CycleID:     cycleID,
		Score:       v.Score,
		Status:      string(v.Status),
		Summary:     plan.Summary,
		EvaluatedAt: now,
	}); err != nil {
		return fmt.Errorf("appending risk history: %w", err)
	}
	return nil
}

func (o *Orchestrator) errorRow(cycleID string, fc storage.FulfillmentCenter, err error) Row {
	o.metrics.FCEvaluations.WithLabelValues("error").Inc()
	o.logger.Error("fc evaluation failed", "cycle_id", cycleID, "fc_id", fc.ID, "fc_name", fc.Name, "error", err)
	return Row{
		CycleID:       cycleID,
		FCID:          fc.ID,
		FCName:        fc.Name,
		City:          fc.City,
		Summary:       OutcomeError,
		Outcome:       OutcomeError,
		Error:         err.Error(),
		EvaluatedAt:   o.clock.Now(),
		ReasoningLink: ReasoningLink(fc.ID),
		PlanLink:      PlanLink(fc.ID),
	}
}

// persistFailure is best effort: the row is still emitted if the store is
// the thing that failed.
func (o *Orchestrator) persistFailure(ctx context.Context, row Row) {
	if err := o.store.MarkFCFailed(ctx, row.FCID, row.Summary, row.Error, row.EvaluatedAt); err != nil {
		o.logger.Warn("recording failed evaluation", "fc_id", row.FCID, "error", err)
		return
	}
	if err := o.store.AppendSnapshot(ctx, storage.RiskSnapshot{
		FCID:        row.FCID,
		CycleID:     row.CycleID,
		Summary:     row.Summary,
		Error:       row.Error,
		EvaluatedAt: row.EvaluatedAt,
	}); err != nil {
		o.logger.Warn("appending failed evaluation to risk history", "fc_id", row.FCID, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, row Row) {
	if o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, row); err != nil {
		o.logger.Warn("publishing row failed", "fc_id", row.FCID, "error", err)
	}
}
