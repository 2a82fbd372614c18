package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
)

// Registry is the registration surface shared by worker.Worker and the
// test workflow environment
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register registers the pipeline workflows and activities under their
// published names
func Register(r Registry, a *Activities) {
	r.RegisterWorkflowWithOptions(PipelineWorkflow, workflow.RegisterOptions{Name: PipelineWorkflowName})
	r.RegisterWorkflowWithOptions(EntityWorkflow, workflow.RegisterOptions{Name: EntityWorkflowName})

	r.RegisterActivityWithOptions(a.PullSeriesActivity, activity.RegisterOptions{Name: PullSeriesActivityName})
	r.RegisterActivityWithOptions(a.PrepareSeriesActivity, activity.RegisterOptions{Name: PrepareSeriesActivityName})
	r.RegisterActivityWithOptions(a.ForecastSeriesActivity, activity.RegisterOptions{Name: ForecastSeriesActivityName})
	r.RegisterActivityWithOptions(a.CombineCategoryActivity, activity.RegisterOptions{Name: CombineCategoryActivityName})
	r.RegisterActivityWithOptions(a.EntityEmissionsActivity, activity.RegisterOptions{Name: EntityEmissionsActivityName})
	r.RegisterActivityWithOptions(a.CombineAllEntitiesActivity, activity.RegisterOptions{Name: CombineAllEntitiesActivityName})
	r.RegisterActivityWithOptions(a.StoreSummaryActivity, activity.RegisterOptions{Name: StoreSummaryActivityName})
}

// NewWorker creates a worker that runs at most workers activities at once
func NewWorker(c client.Client, taskQueue string, workers int, a *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: workers,
	})
	Register(w, a)
	return w
}

// StartPipeline starts a PipelineWorkflow for req
func StartPipeline(ctx context.Context, c client.Client, taskQueue string, req PipelineRequest) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:        GeneratePipelineWorkflowID(req.RunID),
		TaskQueue: taskQueue,
	}
	return c.ExecuteWorkflow(ctx, options, PipelineWorkflowName, req)
}

// RunPipeline starts a run and waits for its summary
func RunPipeline(ctx context.Context, c client.Client, taskQueue string, req PipelineRequest) (*pipeline.Summary, error) {
	run, err := StartPipeline(ctx, c, taskQueue, req)
	if err != nil {
		return nil, err
	}
	var summary pipeline.Summary
	if err := run.Get(ctx, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
