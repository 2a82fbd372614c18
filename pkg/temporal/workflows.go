package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/leowmjw/go-temporal-emissions/pkg/config"
	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
)

const (
	// Workflow IDs
	PipelineWorkflowIDPrefix = "emissions-run-"
	EntityWorkflowIDPrefix   = "emissions-entity-"

	DefaultTaskQueue = "emissions-task-queue"

	// Workflow names
	PipelineWorkflowName = "emissions-pipeline"
	EntityWorkflowName   = "emissions-entity"

	// Activity names
	PullSeriesActivityName         = "pull-series"
	PrepareSeriesActivityName      = "prepare-series"
	ForecastSeriesActivityName     = "forecast-series"
	CombineCategoryActivityName    = "combine-category"
	EntityEmissionsActivityName    = "entity-emissions"
	CombineAllEntitiesActivityName = "combine-all-entities"
	StoreSummaryActivityName       = "store-summary"

	// Default values
	DefaultFitTimeout = 30 * time.Second
	stageEntity       = "entity"
)

// CategoryPlan lists the fuels of one category in configured order
type CategoryPlan struct {
	Name  string   `json:"name"`
	Fuels []string `json:"fuels"`
}

// PipelineRequest is the fully resolved input of PipelineWorkflow. It is
// built from the configuration before the workflow starts so the workflow
// itself never reads configuration.
type PipelineRequest struct {
	RunID      string         `json:"run_id"`
	Entities   []string       `json:"entities"`
	Categories []CategoryPlan `json:"categories"`
	// Emissions is false when only some categories were requested
	Emissions  bool          `json:"emissions"`
	Pull       bool          `json:"pull"`
	Model      string        `json:"model"`
	Fallback   string        `json:"fallback,omitempty"`
	FitTimeout time.Duration `json:"fit_timeout"`
}

// EntityRequest is the input of EntityWorkflow
type EntityRequest struct {
	RunID      string         `json:"run_id"`
	Entity     string         `json:"entity"`
	Categories []CategoryPlan `json:"categories"`
	Emissions  bool           `json:"emissions"`
	Pull       bool           `json:"pull"`
	Model      string         `json:"model"`
	Fallback   string         `json:"fallback,omitempty"`
	FitTimeout time.Duration  `json:"fit_timeout"`
}

// EntityResult summarizes one entity
type EntityResult struct {
	Entity    string                 `json:"entity"`
	Completed bool                   `json:"completed"`
	Attempted int                    `json:"attempted"`
	Succeeded int                    `json:"succeeded"`
	Degraded  int                    `json:"degraded"`
	FellBack  int                    `json:"fell_back"`
	Failed    int                    `json:"failed"`
	Failures  []pipeline.UnitFailure `json:"failures,omitempty"`
}

// NewPipelineRequest resolves a run request against the configuration
func NewPipelineRequest(cfg *config.Config, req pipeline.Request) (PipelineRequest, error) {
	entities, categories, err := pipeline.Resolve(cfg, req)
	if err != nil {
		return PipelineRequest{}, err
	}

	out := PipelineRequest{
		RunID:      req.RunID,
		Entities:   entities,
		Emissions:  len(categories) == len(cfg.Categories),
		Pull:       req.Pull,
		Model:      req.Model,
		Fallback:   cfg.Fallback,
		FitTimeout: cfg.FitTimeout,
	}
	if out.RunID == "" {
		out.RunID = uuid.NewString()
	}
	if out.Model == "" {
		out.Model = cfg.Model
	}
	for _, cat := range categories {
		out.Categories = append(out.Categories, CategoryPlan{Name: cat.Name, Fuels: cat.FuelNames()})
	}
	return out, nil
}

func (r PipelineRequest) entityRequest(entity string) EntityRequest {
	return EntityRequest{
		RunID:      r.RunID,
		Entity:     entity,
		Categories: r.Categories,
		Emissions:  r.Emissions,
		Pull:       r.Pull,
		Model:      r.Model,
		Fallback:   r.Fallback,
		FitTimeout: r.FitTimeout,
	}
}

// PipelineWorkflow runs one EntityWorkflow per entity, then combines every
// entity whose emissions tables were written and stores the run summary.
func PipelineWorkflow(ctx workflow.Context, req PipelineRequest) (*pipeline.Summary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting pipeline workflow", "runID", req.RunID, "entities", len(req.Entities))

	summary := &pipeline.Summary{RunID: req.RunID, Started: workflow.Now(ctx).UTC()}

	futures := make([]workflow.ChildWorkflowFuture, len(req.Entities))
	for i, entity := range req.Entities {
		cwo := workflow.ChildWorkflowOptions{
			WorkflowID: GenerateEntityWorkflowID(req.RunID, entity),
		}
		futures[i] = workflow.ExecuteChildWorkflow(workflow.WithChildOptions(ctx, cwo), EntityWorkflowName, req.entityRequest(entity))
	}

	var completed []string
	for i, future := range futures {
		var result EntityResult
		if err := future.Get(ctx, &result); err != nil {
			logger.Error("Entity workflow failed", "entity", req.Entities[i], "error", err)
			summary.Failures = append(summary.Failures, pipeline.UnitFailure{
				Entity: req.Entities[i],
				Stage:  stageEntity,
				Kind:   kindOf(stageEntity, err),
				Err:    errorMessage(err),
			})
			continue
		}
		summary.Attempted += result.Attempted
		summary.Succeeded += result.Succeeded
		summary.Degraded += result.Degraded
		summary.FellBack += result.FellBack
		summary.Failed += result.Failed
		summary.Failures = append(summary.Failures, result.Failures...)
		if result.Completed {
			completed = append(completed, result.Entity)
		}
	}
	summary.Completed = completed

	actx := workflow.WithActivityOptions(ctx, stageOptions())
	if len(completed) > 0 && req.Emissions {
		if err := workflow.ExecuteActivity(actx, CombineAllEntitiesActivityName, completed).Get(ctx, nil); err != nil {
			logger.Error("Failed to combine entities", "error", err)
			summary.Failures = append(summary.Failures, pipeline.UnitFailure{
				Stage: pipeline.StageCombineAll,
				Kind:  kindOf(pipeline.StageCombineAll, err),
				Err:   errorMessage(err),
			})
		}
	}

	summary.Finished = workflow.Now(ctx).UTC()
	if err := workflow.ExecuteActivity(actx, StoreSummaryActivityName, *summary).Get(ctx, nil); err != nil {
		logger.Warn("Failed to store run summary", "error", err)
	}

	logger.Info("Pipeline workflow completed",
		"runID", req.RunID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"completed", len(completed))
	return summary, nil
}

// EntityWorkflow processes every category of one entity concurrently and,
// when all of them combined cleanly, computes the entity's emissions.
func EntityWorkflow(ctx workflow.Context, req EntityRequest) (*EntityResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting entity workflow", "entity", req.Entity, "categories", len(req.Categories))

	result := &EntityResult{Entity: req.Entity}
	outcomes := make([]categoryOutcome, len(req.Categories))

	wg := workflow.NewWaitGroup(ctx)
	for i, cat := range req.Categories {
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			outcomes[i] = runCategory(gctx, req, cat)
		})
	}
	wg.Wait(ctx)

	allCombined := true
	for _, out := range outcomes {
		result.Attempted += out.attempted
		result.Succeeded += out.succeeded
		result.Degraded += out.degraded
		result.FellBack += out.fellBack
		if out.failure != nil {
			allCombined = false
			if out.failure.Fuel != "" {
				result.Failed++
			}
			result.Failures = append(result.Failures, *out.failure)
		}
	}

	if !allCombined {
		result.Failures = append(result.Failures, pipeline.UnitFailure{
			Entity: req.Entity,
			Stage:  pipeline.StageEmissions,
			Kind:   pipeline.KindSkipped,
			Err:    "a category of this entity failed",
		})
		return result, nil
	}
	if !req.Emissions {
		return result, nil
	}

	actx := workflow.WithActivityOptions(ctx, stageOptions())
	if err := workflow.ExecuteActivity(actx, EntityEmissionsActivityName, req.Entity).Get(ctx, nil); err != nil {
		logger.Error("Failed to compute emissions", "entity", req.Entity, "error", err)
		result.Failures = append(result.Failures, pipeline.UnitFailure{
			Entity: req.Entity,
			Stage:  pipeline.StageEmissions,
			Kind:   kindOf(pipeline.StageEmissions, err),
			Err:    errorMessage(err),
		})
		return result, nil
	}

	result.Completed = true
	logger.Info("Entity workflow completed", "entity", req.Entity, "succeeded", result.Succeeded)
	return result, nil
}

type categoryOutcome struct {
	attempted int
	succeeded int
	degraded  int
	fellBack  int
	failure   *pipeline.UnitFailure
}

type unitOutcome struct {
	degraded bool
	fellBack bool
	stage    string
	err      error
}

// runCategory fans out the fuels of a category as activity chains, joins
// them, and combines. The first failing fuel cancels its siblings.
func runCategory(ctx workflow.Context, req EntityRequest, cat CategoryPlan) categoryOutcome {
	logger := workflow.GetLogger(ctx)
	cctx, cancel := workflow.WithCancel(ctx)
	defer cancel()

	results := make([]unitOutcome, len(cat.Fuels))
	wg := workflow.NewWaitGroup(ctx)
	for i, fuel := range cat.Fuels {
		u := pipeline.Unit{Entity: req.Entity, Category: cat.Name, Fuel: fuel}
		wg.Add(1)
		workflow.Go(cctx, func(gctx workflow.Context) {
			defer wg.Done()
			results[i] = runUnit(gctx, req, u)
			if results[i].err != nil {
				cancel()
			}
		})
	}
	wg.Wait(ctx)

	out := categoryOutcome{attempted: len(cat.Fuels)}
	var failure *pipeline.UnitFailure
	for i, res := range results {
		if res.err == nil {
			out.succeeded++
			if res.degraded {
				out.degraded++
			}
			if res.fellBack {
				out.fellBack++
			}
			continue
		}
		kind := kindOf(res.stage, res.err)
		if failure != nil && kind == pipeline.KindCanceled {
			continue
		}
		if failure == nil || failure.Kind == pipeline.KindCanceled {
			failure = &pipeline.UnitFailure{
				Entity:   req.Entity,
				Category: cat.Name,
				Fuel:     cat.Fuels[i],
				Stage:    res.stage,
				Kind:     kind,
				Err:      errorMessage(res.err),
			}
		}
	}
	if failure != nil {
		logger.Error("Unit failed, skipping category",
			"entity", req.Entity,
			"category", cat.Name,
			"fuel", failure.Fuel,
			"stage", failure.Stage,
			"error", failure.Err)
		out.failure = failure
		return out
	}

	actx := workflow.WithActivityOptions(ctx, stageOptions())
	if err := workflow.ExecuteActivity(actx, CombineCategoryActivityName, req.Entity, cat.Name).Get(ctx, nil); err != nil {
		out.failure = &pipeline.UnitFailure{
			Entity:   req.Entity,
			Category: cat.Name,
			Stage:    pipeline.StageCombine,
			Kind:     kindOf(pipeline.StageCombine, err),
			Err:      errorMessage(err),
		}
	}
	return out
}

// runUnit pulls, prepares and forecasts one series. A failed forecast is
// retried exactly once with the fallback model.
func runUnit(ctx workflow.Context, req EntityRequest, u pipeline.Unit) unitOutcome {
	logger := workflow.GetLogger(ctx)
	actx := workflow.WithActivityOptions(ctx, stageOptions())

	if req.Pull {
		if err := workflow.ExecuteActivity(actx, PullSeriesActivityName, u).Get(ctx, nil); err != nil {
			return unitOutcome{stage: pipeline.StagePull, err: err}
		}
	}

	var prep pipeline.PrepareResult
	if err := workflow.ExecuteActivity(actx, PrepareSeriesActivityName, u).Get(ctx, &prep); err != nil {
		return unitOutcome{stage: pipeline.StagePrepare, err: err}
	}
	out := unitOutcome{degraded: prep.Degraded}

	fctx := workflow.WithActivityOptions(ctx, forecastOptions(req.FitTimeout))
	var fc pipeline.ForecastResult
	err := workflow.ExecuteActivity(fctx, ForecastSeriesActivityName, u, req.Model).Get(ctx, &fc)
	if err == nil {
		return out
	}
	if kindOf(pipeline.StageForecast, err) != pipeline.KindFit || req.Fallback == "" || req.Fallback == req.Model {
		return unitOutcome{stage: pipeline.StageForecast, err: err}
	}

	logger.Warn("forecast fit failed, using fallback",
		"unit", u.String(),
		"model", req.Model,
		"fallback", req.Fallback,
		"error", err)
	if err := workflow.ExecuteActivity(fctx, ForecastSeriesActivityName, u, req.Fallback).Get(ctx, &fc); err != nil {
		return unitOutcome{stage: pipeline.StageForecast, err: err}
	}
	out.fellBack = true
	return out
}

func stageOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				pipeline.KindMissingInput,
				pipeline.KindAlignment,
				pipeline.KindMalformed,
			},
		},
	}
}

func forecastOptions(fitTimeout time.Duration) workflow.ActivityOptions {
	if fitTimeout <= 0 {
		fitTimeout = DefaultFitTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: fitTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
}

// kindOf maps a workflow-side error onto a failure kind. A forecast that
// runs past its budget counts as a fit failure.
func kindOf(stage string, err error) string {
	var appErr *temporal.ApplicationError
	switch {
	case temporal.IsCanceledError(err):
		return pipeline.KindCanceled
	case temporal.IsTimeoutError(err) && stage == pipeline.StageForecast:
		return pipeline.KindFit
	case errors.As(err, &appErr) && appErr.Type() != "":
		return appErr.Type()
	default:
		return pipeline.KindOther
	}
}

func errorMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

// GeneratePipelineWorkflowID creates the workflow ID of a run
func GeneratePipelineWorkflowID(runID string) string {
	return PipelineWorkflowIDPrefix + runID
}

// GenerateEntityWorkflowID creates the child workflow ID of an entity
func GenerateEntityWorkflowID(runID, entity string) string {
	return fmt.Sprintf("%s%s-%s", EntityWorkflowIDPrefix, runID, entity)
}
