package temporal

import (
	"context"
	"log/slog"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/leowmjw/go-temporal-emissions/pkg/metrics"
	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
)

// Activities wraps the pipeline steps for execution on a Temporal worker.
// Each activity reads its inputs from the store and writes its output back,
// so only keys and small results cross the workflow boundary.
type Activities struct {
	steps  *pipeline.Steps
	logger *slog.Logger
}

// NewActivities creates the activity set
func NewActivities(steps *pipeline.Steps, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{steps: steps, logger: logger}
}

// PullSeriesActivity fetches and stores the raw series of a unit
func (a *Activities) PullSeriesActivity(ctx context.Context, u pipeline.Unit) error {
	a.logger.Debug("Pulling series", "unit", u.String(), "attempt", activity.GetInfo(ctx).Attempt)
	if err := a.steps.Pull(ctx, u); err != nil {
		a.logger.Error("Failed to pull series", "unit", u.String(), "error", err)
		return toApplicationError(err)
	}
	return nil
}

// PrepareSeriesActivity normalizes and imputes the raw series of a unit
func (a *Activities) PrepareSeriesActivity(ctx context.Context, u pipeline.Unit) (*pipeline.PrepareResult, error) {
	result, err := a.steps.Prepare(ctx, u)
	if err != nil {
		a.logger.Error("Failed to prepare series", "unit", u.String(), "error", err)
		return nil, toApplicationError(err)
	}
	return result, nil
}

// ForecastSeriesActivity fits one model on a unit's cleaned series. It makes
// a single attempt; the workflow owns the fallback.
func (a *Activities) ForecastSeriesActivity(ctx context.Context, u pipeline.Unit, model string) (*pipeline.ForecastResult, error) {
	result, err := a.steps.Forecast(ctx, u, model)
	if err != nil {
		a.logger.Warn("Forecast attempt failed", "unit", u.String(), "model", model, "error", err)
		return nil, toApplicationError(err)
	}
	return result, nil
}

// CombineCategoryActivity builds the combined table of an (entity, category)
func (a *Activities) CombineCategoryActivity(ctx context.Context, entity, category string) error {
	if err := a.steps.Combine(ctx, entity, category); err != nil {
		a.logger.Error("Failed to combine category", "entity", entity, "category", category, "error", err)
		return toApplicationError(err)
	}
	return nil
}

// EntityEmissionsActivity writes the total emissions and intensity tables
func (a *Activities) EntityEmissionsActivity(ctx context.Context, entity string) error {
	if err := a.steps.Emissions(ctx, entity); err != nil {
		a.logger.Error("Failed to compute emissions", "entity", entity, "error", err)
		return toApplicationError(err)
	}
	return nil
}

// CombineAllEntitiesActivity writes the all-entity tables and the workbook
func (a *Activities) CombineAllEntitiesActivity(ctx context.Context, entities []string) error {
	if err := a.steps.CombineAll(ctx, entities); err != nil {
		a.logger.Error("Failed to combine entities", "entities", len(entities), "error", err)
		return toApplicationError(err)
	}
	return nil
}

// StoreSummaryActivity persists the run summary
func (a *Activities) StoreSummaryActivity(ctx context.Context, summary pipeline.Summary) error {
	metrics.ObserveRun(len(summary.Failures))
	if err := pipeline.StoreSummary(ctx, a.steps.Store(), &summary); err != nil {
		return toApplicationError(err)
	}
	a.logger.Info("Stored run summary",
		"run_id", summary.RunID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed)
	return nil
}

// toApplicationError tags err with its failure kind. Missing inputs,
// misaligned tables and malformed responses cannot succeed on retry.
func toApplicationError(err error) error {
	kind := pipeline.Classify(err)
	switch kind {
	case pipeline.KindMissingInput, pipeline.KindAlignment, pipeline.KindMalformed:
		return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
	default:
		return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
	}
}
