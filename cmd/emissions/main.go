package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"github.com/leowmjw/go-temporal-emissions/pkg/config"
	"github.com/leowmjw/go-temporal-emissions/pkg/hcl"
	"github.com/leowmjw/go-temporal-emissions/pkg/ingest"
	"github.com/leowmjw/go-temporal-emissions/pkg/metrics"
	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
	"github.com/leowmjw/go-temporal-emissions/pkg/store"
	"github.com/leowmjw/go-temporal-emissions/pkg/temporal"
)

const (
	modeLocal    = "local"
	modeTemporal = "temporal"
)

type options struct {
	configPath string
	mode       string
	runs       string
	entities   string
	categories string
	pull       bool
	resume     bool
	model      string
	address    string
	namespace  string
	taskQueue  string
	jsonOutput bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Pipeline HCL file (built-in defaults when empty)")
	flag.StringVar(&opts.mode, "mode", modeLocal, "Execution mode: 'local' or 'temporal'")
	flag.StringVar(&opts.runs, "runs", "", "HCL run file or directory; overrides the selection flags")
	flag.StringVar(&opts.entities, "entities", "", "Comma-separated entity codes (all when empty)")
	flag.StringVar(&opts.categories, "categories", "", "Comma-separated categories (all when empty)")
	flag.BoolVar(&opts.pull, "pull", false, "Fetch raw series from the provider first")
	flag.BoolVar(&opts.resume, "resume", false, "Skip units that already have a forecast (local mode)")
	flag.StringVar(&opts.model, "model", "", "Forecast model (configured model when empty)")
	flag.StringVar(&opts.address, "address", "localhost:7233", "Address of Temporal server")
	flag.StringVar(&opts.namespace, "namespace", "default", "Temporal namespace")
	flag.StringVar(&opts.taskQueue, "task-queue", temporal.DefaultTaskQueue, "Temporal task queue")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Display summaries as JSON")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opts.mode != modeLocal && opts.mode != modeTemporal {
		logger.Error("Mode must be either 'local' or 'temporal'")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ok, err := run(ctx, opts, logger)
	if err != nil {
		logger.Error("Run failed", "error", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

// run executes every requested run and reports whether all of them
// completed without failures
func run(ctx context.Context, opts options, logger *slog.Logger) (bool, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return false, fmt.Errorf("failed to load configuration: %w", err)
	}
	requests, err := buildRequests(opts)
	if err != nil {
		return false, err
	}

	var execute func(context.Context, pipeline.Request) (*pipeline.Summary, error)
	switch opts.mode {
	case modeTemporal:
		c, err := client.Dial(client.Options{
			HostPort:  opts.address,
			Namespace: opts.namespace,
			Logger:    log.NewStructuredLogger(logger),
		})
		if err != nil {
			return false, fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer c.Close()

		execute = func(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error) {
			if req.Resume {
				logger.Warn("Resume is ignored in temporal mode", "run_id", req.RunID)
			}
			plan, err := temporal.NewPipelineRequest(cfg, req)
			if err != nil {
				return nil, err
			}
			logger.Info("Executing run", "run_id", plan.RunID, "workflow_id", temporal.GeneratePipelineWorkflowID(plan.RunID))
			return temporal.RunPipeline(ctx, c, opts.taskQueue, plan)
		}
	default:
		metrics.Init()
		st, err := store.Open(cfg.Store, cfg.DataDir, cfg.SQLitePath)
		if err != nil {
			return false, fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		var fetcher ingest.Fetcher
		if cfg.Ingest.APIKey != "" {
			fetcher = ingest.NewClient(cfg.Ingest.BaseURL, cfg.Ingest.APIKey, cfg.Ingest.Timeout, cfg.Ingest.Retries, logger)
		}
		steps, err := pipeline.NewSteps(cfg, st, fetcher, logger)
		if err != nil {
			return false, err
		}
		runner := pipeline.NewRunner(steps, logger)
		execute = runner.Run
	}

	allOK := true
	for _, req := range requests {
		summary, err := execute(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return false, err
			}
			logger.Error("Run could not start", "run_id", req.RunID, "error", err)
			allOK = false
			continue
		}
		displaySummary(summary, opts.jsonOutput, logger)
		allOK = allOK && summary.OK()
	}
	return allOK, nil
}

func buildRequests(opts options) ([]pipeline.Request, error) {
	if opts.runs == "" {
		return []pipeline.Request{{
			Entities:   splitList(opts.entities, true),
			Categories: splitList(opts.categories, false),
			Pull:       opts.pull,
			Resume:     opts.resume,
			Model:      opts.model,
		}}, nil
	}

	info, err := os.Stat(opts.runs)
	if err != nil {
		return nil, fmt.Errorf("failed to access runs path: %w", err)
	}
	if info.IsDir() {
		return hcl.ParseRunDirectory(opts.runs)
	}
	if !hcl.IsHCLBasedOnExtension(opts.runs) {
		return nil, fmt.Errorf("file %s does not have an .hcl extension", opts.runs)
	}
	content, err := os.ReadFile(opts.runs)
	if err != nil {
		return nil, err
	}
	return hcl.ParseRunRequests(content, opts.runs)
}

func splitList(s string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// displaySummary shows a run summary in human-readable or JSON format
func displaySummary(s *pipeline.Summary, jsonOutput bool, logger *slog.Logger) {
	if jsonOutput {
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			logger.Error("Failed to marshal summary to JSON", "error", err)
			fmt.Printf("%+v\n", *s)
			return
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Run %s\n", s.RunID)
	fmt.Printf("  Attempted: %d\n", s.Attempted)
	fmt.Printf("  Succeeded: %d (degraded %d, fell back %d)\n", s.Succeeded, s.Degraded, s.FellBack)
	fmt.Printf("  Failed:    %d\n", s.Failed)
	if len(s.Completed) > 0 {
		fmt.Printf("  Completed: %s\n", strings.Join(s.Completed, ", "))
	}
	for _, f := range s.Failures {
		unit := strings.Trim(strings.Join([]string{f.Entity, f.Category, f.Fuel}, "/"), "/")
		fmt.Printf("  - %s [%s/%s]: %s\n", unit, f.Stage, f.Kind, f.Err)
	}
}
