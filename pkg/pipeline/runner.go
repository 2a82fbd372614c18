package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/leowmjw/go-temporal-emissions/pkg/config"
	"github.com/leowmjw/go-temporal-emissions/pkg/forecast"
	"github.com/leowmjw/go-temporal-emissions/pkg/ingest"
	"github.com/leowmjw/go-temporal-emissions/pkg/metrics"
	"github.com/leowmjw/go-temporal-emissions/pkg/store"
	"github.com/leowmjw/go-temporal-emissions/pkg/table"
	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// Stage names used in failures
const (
	StagePull       = "pull"
	StagePrepare    = "prepare"
	StageForecast   = "forecast"
	StageCombine    = "combine"
	StageEmissions  = "emissions"
	StageCombineAll = "combine_all"
)

// Failure kinds
const (
	KindMissingInput = "missing_input"
	KindAlignment    = "alignment"
	KindFit          = "fit"
	KindMalformed    = "malformed"
	KindFetch        = "fetch"
	KindCanceled     = "canceled"
	KindSkipped      = "skipped"
	KindOther        = "other"
)

// Request selects what a run covers. Empty lists mean everything configured.
type Request struct {
	RunID      string   `json:"run_id,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Categories []string `json:"categories,omitempty"`
	// Pull fetches raw series first; otherwise raw artifacts must exist
	Pull bool `json:"pull"`
	// Resume skips units whose forecast artifact already exists
	Resume bool   `json:"resume"`
	Model  string `json:"model,omitempty"`
}

// UnitFailure records why a unit or a stage could not complete
type UnitFailure struct {
	Entity   string `json:"entity,omitempty"`
	Category string `json:"category,omitempty"`
	Fuel     string `json:"fuel,omitempty"`
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Err      string `json:"error"`
}

// Summary describes the outcome of a run
type Summary struct {
	RunID     string        `json:"run_id"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Degraded  int           `json:"degraded"`
	FellBack  int           `json:"fell_back"`
	Failed    int           `json:"failed"`
	Completed []string      `json:"completed_entities"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// OK reports whether every unit and stage completed
func (s *Summary) OK() bool {
	return len(s.Failures) == 0
}

// Recorder accumulates unit outcomes from concurrent workers
type Recorder struct {
	mu      sync.Mutex
	summary Summary
}

// NewRecorder starts a summary for runID
func NewRecorder(runID string) *Recorder {
	return &Recorder{summary: Summary{RunID: runID, Started: time.Now().UTC()}}
}

// Attempt counts a started unit
func (r *Recorder) Attempt() {
	r.mu.Lock()
	r.summary.Attempted++
	r.mu.Unlock()
}

// Succeed counts a completed unit
func (r *Recorder) Succeed(category string, degraded, fellBack bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Succeeded++
	outcome := metrics.OutcomeSucceeded
	if degraded {
		r.summary.Degraded++
		outcome = metrics.OutcomeDegraded
	}
	if fellBack {
		r.summary.FellBack++
		outcome = metrics.OutcomeFellBack
	}
	metrics.IncUnit(category, outcome)
}

// Fail records a failure
func (r *Recorder) Fail(f UnitFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Fuel != "" {
		r.summary.Failed++
		metrics.IncUnit(f.Category, metrics.OutcomeFailed)
	}
	r.summary.Failures = append(r.summary.Failures, f)
}

// Complete marks an entity whose emissions tables were written
func (r *Recorder) Complete(entity string) {
	r.mu.Lock()
	r.summary.Completed = append(r.summary.Completed, entity)
	r.mu.Unlock()
}

// Summary returns a copy of the summary with Finished set
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Finished = time.Now().UTC()
	s.Completed = append([]string(nil), r.summary.Completed...)
	s.Failures = append([]UnitFailure(nil), r.summary.Failures...)
	return &s
}

// Classify maps an error onto a failure kind
func Classify(err error) string {
	var statusErr *ingest.StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, forecast.ErrFit):
		return KindCanceled
	case errors.Is(err, table.ErrMissingInput), errors.Is(err, store.ErrNotFound):
		return KindMissingInput
	case errors.Is(err, table.ErrAlignment):
		return KindAlignment
	case errors.Is(err, forecast.ErrFit):
		return KindFit
	case errors.Is(err, timeline.ErrMalformedResponse):
		return KindMalformed
	case errors.As(err, &statusErr), errors.Is(err, ingest.ErrMissingAPIKey), errors.Is(err, ErrNoFetcher):
		return KindFetch
	default:
		return KindOther
	}
}

// unitError ties an error to the unit stage it came from
type unitError struct {
	unit  Unit
	stage string
	err   error
}

func (e *unitError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.stage, e.unit, e.err)
}

func (e *unitError) Unwrap() error { return e.err }

// Runner executes the whole pipeline in-process
type Runner struct {
	steps  *Steps
	logger *slog.Logger
}

// NewRunner creates a runner over steps
func NewRunner(steps *Steps, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{steps: steps, logger: logger}
}

// Run processes every requested (entity, category, fuel) unit with at most
// cfg.Workers units in flight. The first failing unit of an (entity,
// category) cancels its siblings; other entities carry on. Entities whose
// emissions tables were written are combined at the end, and the summary is
// stored. The returned error is non-nil only for an invalid request or when
// ctx ends.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	cfg := r.steps.Config()
	entities, categories, err := Resolve(cfg, req)
	if err != nil {
		return nil, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	logger := r.logger.With("run_id", req.RunID)
	logger.Info("Starting pipeline run",
		"entities", len(entities),
		"categories", len(categories),
		"workers", cfg.Workers,
		"pull", req.Pull)

	rec := NewRecorder(req.RunID)
	sem := semaphore.NewWeighted(int64(cfg.Workers))

	var g errgroup.Group
	for _, code := range entities {
		g.Go(func() error {
			if r.runEntity(ctx, code, categories, req, sem, rec, logger) {
				rec.Complete(code)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return rec.Summary(), err
	}

	// Keep configured order in the all-entity tables.
	done := make(map[string]bool)
	for _, code := range rec.Summary().Completed {
		done[code] = true
	}
	var ordered []string
	for _, code := range entities {
		if done[code] {
			ordered = append(ordered, code)
		}
	}
	if len(ordered) > 0 && len(categories) == len(cfg.Categories) {
		if err := r.steps.CombineAll(ctx, ordered); err != nil {
			logger.Error("Failed to combine entities", "error", err)
			rec.Fail(UnitFailure{Stage: StageCombineAll, Kind: Classify(err), Err: err.Error()})
		}
	}

	summary := rec.Summary()
	if err := StoreSummary(ctx, r.steps.Store(), summary); err != nil {
		logger.Warn("Failed to store run summary", "error", err)
	}
	metrics.ObserveRun(len(summary.Failures))

	logger.Info("Pipeline run finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"degraded", summary.Degraded,
		"fell_back", summary.FellBack,
		"failed", summary.Failed,
		"duration", summary.Finished.Sub(summary.Started))
	return summary, nil
}

// runEntity returns true when the entity's emissions tables were written
func (r *Runner) runEntity(ctx context.Context, entity string, categories []config.Category, req Request, sem *semaphore.Weighted, rec *Recorder, logger *slog.Logger) bool {
	var wg sync.WaitGroup
	results := make([]bool, len(categories))
	for i, cat := range categories {
		wg.Add(1)
		go func(i int, cat config.Category) {
			defer wg.Done()
			results[i] = r.runCategory(ctx, entity, cat, req, sem, rec, logger)
		}(i, cat)
	}
	wg.Wait()

	for _, ok := range results {
		if !ok {
			rec.Fail(UnitFailure{
				Entity: entity,
				Stage:  StageEmissions,
				Kind:   KindSkipped,
				Err:    "a category of this entity failed",
			})
			return false
		}
	}

	// Emissions need every configured category.
	if len(categories) != len(r.steps.Config().Categories) {
		return false
	}
	if err := r.steps.Emissions(ctx, entity); err != nil {
		logger.Error("Failed to compute emissions", "entity", entity, "error", err)
		rec.Fail(UnitFailure{Entity: entity, Stage: StageEmissions, Kind: Classify(err), Err: err.Error()})
		return false
	}
	return true
}

// runCategory fans out the fuels of one (entity, category), joins them and
// combines. It returns true when the combined table was written.
func (r *Runner) runCategory(ctx context.Context, entity string, cat config.Category, req Request, sem *semaphore.Weighted, rec *Recorder, logger *slog.Logger) bool {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range cat.Fuels {
		u := Unit{Entity: entity, Category: cat.Name, Fuel: f.Name}
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return &unitError{unit: u, stage: StagePull, err: err}
			}
			defer sem.Release(1)
			return r.runUnit(gctx, u, req, rec, logger)
		})
	}

	if err := g.Wait(); err != nil {
		var ue *unitError
		failure := UnitFailure{Entity: entity, Category: cat.Name, Kind: Classify(err), Err: err.Error()}
		if errors.As(err, &ue) {
			failure.Fuel = ue.unit.Fuel
			failure.Stage = ue.stage
		}
		logger.Error("Unit failed, skipping category",
			"entity", entity,
			"category", cat.Name,
			"fuel", failure.Fuel,
			"stage", failure.Stage,
			"error", err)
		rec.Fail(failure)
		return false
	}

	if err := r.steps.Combine(ctx, entity, cat.Name); err != nil {
		logger.Error("Failed to combine category", "entity", entity, "category", cat.Name, "error", err)
		rec.Fail(UnitFailure{Entity: entity, Category: cat.Name, Stage: StageCombine, Kind: Classify(err), Err: err.Error()})
		return false
	}
	return true
}

func (r *Runner) runUnit(ctx context.Context, u Unit, req Request, rec *Recorder, logger *slog.Logger) error {
	if req.Resume && r.steps.HasForecast(ctx, u) {
		logger.Debug("Forecast exists, skipping unit", "unit", u.String())
		return nil
	}
	rec.Attempt()

	if req.Pull {
		if err := r.steps.Pull(ctx, u); err != nil {
			return &unitError{unit: u, stage: StagePull, err: err}
		}
	}
	prep, err := r.steps.Prepare(ctx, u)
	if err != nil {
		return &unitError{unit: u, stage: StagePrepare, err: err}
	}
	fc, err := r.steps.ForecastWithFallback(ctx, u, req.Model)
	if err != nil {
		return &unitError{unit: u, stage: StageForecast, err: err}
	}

	rec.Succeed(u.Category, prep.Degraded, fc.FellBack)
	return nil
}

// StoreSummary writes the summary as indented JSON
func StoreSummary(ctx context.Context, st store.Store, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return st.PutBlob(ctx, store.Key{Stage: store.StageSummary}, data)
}

// Resolve expands a request against the configuration, keeping configured
// order for defaults and request order otherwise.
func Resolve(cfg *config.Config, req Request) ([]string, []config.Category, error) {
	entities := req.Entities
	if len(entities) == 0 {
		entities = cfg.EntityCodes()
	}
	seen := make(map[string]bool, len(entities))
	for _, code := range entities {
		if _, ok := cfg.Entity(code); !ok {
			return nil, nil, fmt.Errorf("unknown entity %s", code)
		}
		if seen[code] {
			return nil, nil, fmt.Errorf("duplicate entity %s", code)
		}
		seen[code] = true
	}

	var categories []config.Category
	if len(req.Categories) == 0 {
		categories = cfg.Categories
	}
	picked := make(map[string]bool, len(req.Categories))
	for _, name := range req.Categories {
		cat, ok := cfg.Category(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown category %s", name)
		}
		if picked[name] {
			return nil, nil, fmt.Errorf("duplicate category %s", name)
		}
		picked[name] = true
		categories = append(categories, cat)
	}
	if req.Model != "" {
		if _, err := forecast.Lookup(req.Model); err != nil {
			return nil, nil, err
		}
	}
	return entities, categories, nil
}
