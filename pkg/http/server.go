package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/leowmjw/go-temporal-emissions/pkg/config"
	"github.com/leowmjw/go-temporal-emissions/pkg/hcl"
	"github.com/leowmjw/go-temporal-emissions/pkg/metrics"
	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
	"github.com/leowmjw/go-temporal-emissions/pkg/store"
	"github.com/leowmjw/go-temporal-emissions/pkg/table"
	"github.com/leowmjw/go-temporal-emissions/pkg/temporal"
	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

const errNoData = "no data"

// Server serves the pipeline outputs and accepts run requests
type Server struct {
	logger         *slog.Logger
	temporalClient client.Client
	cfg            *config.Config
	store          store.Store
	taskQueue      string
	addr           string
}

// NewServer creates a new HTTP server. temporalClient may be nil, in which
// case runs cannot be started over HTTP.
func NewServer(logger *slog.Logger, temporalClient client.Client, cfg *config.Config, st store.Store, taskQueue, addr string) *Server {
	if taskQueue == "" {
		taskQueue = temporal.DefaultTaskQueue
	}
	return &Server{
		logger:         logger,
		temporalClient: temporalClient,
		cfg:            cfg,
		store:          st,
		taskQueue:      taskQueue,
		addr:           addr,
	}
}

// Handler returns the routed handler wrapped in the logging middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /entities", s.handleEntities)
	mux.HandleFunc("GET /entities/{code}/generation", s.handleGeneration)
	mux.HandleFunc("GET /entities/{code}/emissions", s.handleEntityEmissions)
	mux.HandleFunc("GET /emissions", s.handleAllEmissions)
	mux.HandleFunc("GET /workbook", s.handleWorkbook)
	mux.HandleFunc("GET /runs/latest", s.handleLatestRun)
	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// SeriesResponse is a date-indexed table in wire form. NaN values are
// encoded as null.
type SeriesResponse struct {
	Entity    string        `json:"entity,omitempty"`
	Category  string        `json:"category,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Unit      string        `json:"unit,omitempty"`
	Resample  string        `json:"resample"`
	LabelName string        `json:"label_name,omitempty"`
	Labels    []string      `json:"labels,omitempty"`
	Periods   []string      `json:"periods"`
	Columns   []ColumnValue `json:"columns"`
}

// ColumnValue is one column of a SeriesResponse
type ColumnValue struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

type entityInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	out := make([]entityInfo, len(s.cfg.Entities))
	for i, e := range s.cfg.Entities {
		out[i] = entityInfo{Code: e.Code, Name: e.Name}
	}
	s.respondJSON(w, http.StatusOK, out)
}

// Combined forecast table of one category, optionally narrowed to one fuel
func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	code, ok := s.entityCode(w, r)
	if !ok {
		return
	}

	categoryName := r.URL.Query().Get("category")
	if categoryName == "" {
		categoryName = s.cfg.Categories[0].Name
	}
	category, ok := s.cfg.Category(categoryName)
	if !ok {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %s", categoryName))
		return
	}
	g, ok := s.granularity(w, r)
	if !ok {
		return
	}

	t, ok := s.loadTable(w, r, store.Combined(code, category.Name))
	if !ok {
		return
	}

	if fuel := r.URL.Query().Get("fuel"); fuel != "" {
		narrowed, err := table.Select(t, []string{fuel})
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown column %s", fuel))
			return
		}
		t = narrowed
	}

	resp, err := seriesResponse(t, g, timeline.Sum)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Entity = code
	resp.Category = category.Name
	resp.Unit = category.Unit
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEntityEmissions(w http.ResponseWriter, r *http.Request) {
	code, ok := s.entityCode(w, r)
	if !ok {
		return
	}
	kind, stage, ok := s.emissionsKind(w, r, store.StageTotalEmissions, store.StageIntensity)
	if !ok {
		return
	}
	g, ok := s.granularity(w, r)
	if !ok {
		return
	}

	t, ok := s.loadTable(w, r, store.Key{Stage: stage, Entity: code})
	if !ok {
		return
	}

	// Intensity is a ratio, so yearly buckets average the quarters
	agg := timeline.Sum
	if stage == store.StageIntensity {
		agg = timeline.Avg
	}
	resp, err := seriesResponse(t, g, agg)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Entity = code
	resp.Kind = kind
	s.respondJSON(w, http.StatusOK, resp)
}

// All-entity emissions tables hold one row per (entity, quarter). Resampling
// happens per entity so yearly buckets never mix entities.
func (s *Server) handleAllEmissions(w http.ResponseWriter, r *http.Request) {
	kind, stage, ok := s.emissionsKind(w, r, store.StageAllTotal, store.StageAllIntensity)
	if !ok {
		return
	}
	g, ok := s.granularity(w, r)
	if !ok {
		return
	}
	t, ok := s.loadTable(w, r, store.Key{Stage: stage})
	if !ok {
		return
	}

	agg := timeline.Sum
	if stage == store.StageAllIntensity {
		agg = timeline.Avg
	}
	resp, err := labelledSeriesResponse(t, g, agg)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Kind = kind
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkbook(w http.ResponseWriter, r *http.Request) {
	data, ok := s.loadBlob(w, r, store.Key{Stage: store.StageWorkbook})
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="emissions.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write workbook", "error", err)
	}
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	data, ok := s.loadBlob(w, r, store.Key{Stage: store.StageSummary})
	if !ok {
		return
	}
	var summary pipeline.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		s.respondError(w, http.StatusInternalServerError, "corrupt run summary")
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// Run requests are accepted as JSON or HCL and started as a PipelineWorkflow
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.temporalClient == nil {
		s.respondError(w, http.StatusServiceUnavailable, "workflow engine unavailable")
		return
	}

	req, err := hcl.DecodeRunRequest(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := temporal.NewPipelineRequest(s.cfg, *req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("Starting run",
		"run_id", plan.RunID,
		"entities", len(plan.Entities),
		"categories", len(plan.Categories),
		"pull", plan.Pull)

	run, err := temporal.StartPipeline(r.Context(), s.temporalClient, s.taskQueue, plan)
	if err != nil {
		s.logger.Error("Failed to start pipeline workflow", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":     "run started",
		"run_id":      plan.RunID,
		"workflow_id": run.GetID(),
		"entities":    plan.Entities,
	})
}

// Health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) entityCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := strings.ToUpper(r.PathValue("code"))
	if _, ok := s.cfg.Entity(code); !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("unknown entity %s", r.PathValue("code")))
		return "", false
	}
	return code, true
}

func (s *Server) granularity(w http.ResponseWriter, r *http.Request) (timeline.Granularity, bool) {
	g, err := timeline.ParseGranularity(r.URL.Query().Get("resample"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return g, true
}

func (s *Server) emissionsKind(w http.ResponseWriter, r *http.Request, total, intensity store.Stage) (string, store.Stage, bool) {
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "total":
		return "total", total, true
	case "intensity":
		return kind, intensity, true
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %s", kind))
		return "", "", false
	}
}

func (s *Server) loadTable(w http.ResponseWriter, r *http.Request, key store.Key) (*table.Table, bool) {
	t, err := s.store.GetTable(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, errNoData)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load table", "key", key.String(), "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load data")
		return nil, false
	}
	return t, true
}

func (s *Server) loadBlob(w http.ResponseWriter, r *http.Request, key store.Key) ([]byte, bool) {
	data, err := s.store.GetBlob(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, errNoData)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load artifact", "key", key.String(), "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load data")
		return nil, false
	}
	return data, true
}

func seriesResponse(t *table.Table, g timeline.Granularity, agg timeline.AggregationType) (*SeriesResponse, error) {
	resp := &SeriesResponse{Resample: string(g)}
	var dates []time.Time
	for _, c := range t.Columns {
		d, values, err := timeline.Resample(t.Dates, c.Values, g, agg)
		if err != nil {
			return nil, err
		}
		dates = d
		resp.Columns = append(resp.Columns, ColumnValue{Name: c.Name, Values: nullable(values)})
	}
	if dates == nil {
		dates = t.Dates
	}

	resp.Periods = make([]string, len(dates))
	for i, d := range dates {
		if g == timeline.Yearly {
			resp.Periods[i] = fmt.Sprintf("%d", d.Year())
		} else {
			resp.Periods[i] = timeline.FormatPeriod(d)
		}
	}
	return resp, nil
}

// labelledSeriesResponse resamples every label's rows on their own and
// stacks the results in first-seen label order.
func labelledSeriesResponse(t *table.Table, g timeline.Granularity, agg timeline.AggregationType) (*SeriesResponse, error) {
	resp := &SeriesResponse{
		Resample:  string(g),
		LabelName: t.LabelName,
		Labels:    []string{},
		Periods:   []string{},
	}
	for _, c := range t.Columns {
		resp.Columns = append(resp.Columns, ColumnValue{Name: c.Name, Values: []*float64{}})
	}

	seen := make(map[string]bool)
	for _, label := range t.Labels {
		if seen[label] {
			continue
		}
		seen[label] = true

		part, err := seriesResponse(table.Filter(t, label), g, agg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		for range part.Periods {
			resp.Labels = append(resp.Labels, label)
		}
		resp.Periods = append(resp.Periods, part.Periods...)
		for j := range part.Columns {
			resp.Columns[j].Values = append(resp.Columns[j].Values, part.Columns[j].Values...)
		}
	}
	return resp, nil
}

func nullable(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = &v
	}
	return out
}

// Middleware for request logging
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
			"user_agent", r.UserAgent(),
		)
	})
}

// Response helpers
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.logger.Warn("HTTP error response", "status", status, "message", message)
	s.respondJSON(w, status, map[string]string{"error": message})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
