// Package pipeline implements the pipeline stages as store-backed unit
// steps, and a local runner that fans them out over a bounded worker pool.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leowmjw/go-temporal-emissions/pkg/config"
	"github.com/leowmjw/go-temporal-emissions/pkg/emissions"
	"github.com/leowmjw/go-temporal-emissions/pkg/forecast"
	"github.com/leowmjw/go-temporal-emissions/pkg/ingest"
	"github.com/leowmjw/go-temporal-emissions/pkg/metrics"
	"github.com/leowmjw/go-temporal-emissions/pkg/store"
	"github.com/leowmjw/go-temporal-emissions/pkg/table"
	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// CleanedColumn is the value column of a persisted cleaned series
const CleanedColumn = "value"

// Workbook sheet names
const (
	SheetGeneration = "Generation"
	SheetTotal      = "Total_Emissions"
	SheetIntensity  = "Emissions_Intensity"
)

// ErrNoFetcher is returned by Pull when the steps have no ingestion client
var ErrNoFetcher = errors.New("no fetcher configured")

// Unit is one (entity, category, fuel) series
type Unit struct {
	Entity   string `json:"entity"`
	Category string `json:"category"`
	Fuel     string `json:"fuel"`
}

func (u Unit) String() string {
	return u.Entity + "/" + u.Category + "/" + u.Fuel
}

// PrepareResult reports how a series was cleaned
type PrepareResult struct {
	Points   int    `json:"points"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// ForecastResult reports which model produced a forecast
type ForecastResult struct {
	Model    string `json:"model"`
	FellBack bool   `json:"fell_back"`
	Points   int    `json:"points"`
}

// Steps runs individual stages against a store. Every step reads its inputs
// from the store and writes its output back.
type Steps struct {
	cfg     *config.Config
	store   store.Store
	fetcher ingest.Fetcher
	engine  *emissions.Engine
	logger  *slog.Logger
}

// NewSteps wires the stages. fetcher may be nil when raw artifacts are
// already in the store.
func NewSteps(cfg *config.Config, st store.Store, fetcher ingest.Fetcher, logger *slog.Logger) (*Steps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := cfg.Engine()
	if err != nil {
		return nil, fmt.Errorf("failed to build emissions engine: %w", err)
	}
	return &Steps{cfg: cfg, store: st, fetcher: fetcher, engine: engine, logger: logger}, nil
}

// Config returns the configuration the steps were built with
func (s *Steps) Config() *config.Config {
	return s.cfg
}

// Store returns the artifact store
func (s *Steps) Store() store.Store {
	return s.store
}

func (s *Steps) fuel(u Unit) (config.Fuel, error) {
	cat, ok := s.cfg.Category(u.Category)
	if !ok {
		return config.Fuel{}, fmt.Errorf("unknown category %s", u.Category)
	}
	f, ok := cat.Fuel(u.Fuel)
	if !ok {
		return config.Fuel{}, fmt.Errorf("category %s has no fuel %s", u.Category, u.Fuel)
	}
	return f, nil
}

// Pull fetches the raw series for u and stores the body verbatim
func (s *Steps) Pull(ctx context.Context, u Unit) error {
	if s.fetcher == nil {
		return ErrNoFetcher
	}
	f, err := s.fuel(u)
	if err != nil {
		return err
	}

	start := time.Now()
	seriesID := f.SeriesID(u.Entity)
	body, err := s.fetcher.Fetch(ctx, seriesID)
	if err != nil {
		metrics.IncFetch("error")
		return fmt.Errorf("failed to pull %s: %w", u, err)
	}
	metrics.IncFetch("ok")
	metrics.ObserveStage("pull", time.Since(start))

	if err := s.store.PutBlob(ctx, store.Raw(u.Entity, u.Category, u.Fuel), body); err != nil {
		return fmt.Errorf("failed to store raw series: %w", err)
	}
	s.logger.Debug("Pulled series", "unit", u.String(), "series_id", seriesID, "bytes", len(body))
	return nil
}

// Prepare normalizes and imputes the raw series of u onto the configured
// window. An upstream error envelope degrades the unit to an all-zero series
// and is reported in the result, not as an error.
func (s *Steps) Prepare(ctx context.Context, u Unit) (*PrepareResult, error) {
	start := time.Now()
	raw, err := s.store.GetBlob(ctx, store.Raw(u.Entity, u.Category, u.Fuel))
	if err != nil {
		return nil, fmt.Errorf("failed to load raw series for %s: %w", u, err)
	}

	result := &PrepareResult{}
	series, err := timeline.NormalizeAndImpute(raw, s.cfg.Window)
	if err != nil {
		var upstream *timeline.UpstreamDataError
		if !errors.As(err, &upstream) {
			return nil, fmt.Errorf("failed to normalize %s: %w", u, err)
		}
		s.logger.Warn("Upstream data error, using zero series",
			"unit", u.String(),
			"message", upstream.Message)
		result.Degraded = true
		result.Reason = upstream.Message
	}

	t := table.New(series.Dates())
	if err := t.Set(CleanedColumn, series.Values()); err != nil {
		return nil, err
	}
	if err := s.store.PutTable(ctx, store.Cleaned(u.Entity, u.Category, u.Fuel), t); err != nil {
		return nil, fmt.Errorf("failed to store cleaned series: %w", err)
	}

	result.Points = len(series)
	metrics.ObserveStage("prepare", time.Since(start))
	return result, nil
}

func (s *Steps) history(ctx context.Context, u Unit) (timeline.QuarterlySeries, error) {
	t, err := s.store.GetTable(ctx, store.Cleaned(u.Entity, u.Category, u.Fuel))
	if err != nil {
		return nil, fmt.Errorf("failed to load cleaned series for %s: %w", u, err)
	}
	values, ok := t.Column(CleanedColumn)
	if !ok {
		return nil, &table.MissingInputError{Column: CleanedColumn}
	}
	return timeline.NewSeries(t.Dates, values), nil
}

// Forecast fits the named model on the cleaned series of u, bounded by the
// configured fit timeout, and stores the forecast table. It makes a single
// attempt; callers decide about fallback.
func (s *Steps) Forecast(ctx context.Context, u Unit, modelName string) (*ForecastResult, error) {
	model, err := forecast.Lookup(modelName)
	if err != nil {
		return nil, err
	}
	history, err := s.history(ctx, u)
	if err != nil {
		return nil, err
	}

	fitCtx := ctx
	if s.cfg.FitTimeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, s.cfg.FitTimeout)
		defer cancel()
	}

	start := time.Now()
	series, err := forecast.FitAndForecast(fitCtx, model, history, s.cfg.Horizon)
	metrics.ObserveFit(model.Name(), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to forecast %s: %w", u, err)
	}
	if err := s.putForecast(ctx, u, series); err != nil {
		return nil, err
	}
	return &ForecastResult{Model: model.Name(), Points: len(series)}, nil
}

// ForecastWithFallback runs the configured model and, if it fails, the
// configured fallback model once.
func (s *Steps) ForecastWithFallback(ctx context.Context, u Unit, modelName string) (*ForecastResult, error) {
	if modelName == "" {
		modelName = s.cfg.Model
	}
	primary, err := forecast.Lookup(modelName)
	if err != nil {
		return nil, err
	}
	var fallback forecast.Model
	if s.cfg.Fallback != "" && s.cfg.Fallback != modelName {
		if fallback, err = forecast.Lookup(s.cfg.Fallback); err != nil {
			return nil, err
		}
	}
	history, err := s.history(ctx, u)
	if err != nil {
		return nil, err
	}

	f := forecast.WithFallback(primary, fallback, s.cfg.FitTimeout)
	f.Logger = s.logger.With("unit", u.String())

	start := time.Now()
	res, err := f.Forecast(ctx, history, s.cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to forecast %s: %w", u, err)
	}
	metrics.ObserveFit(res.Model, time.Since(start))
	if err := s.putForecast(ctx, u, res.Series); err != nil {
		return nil, err
	}
	return &ForecastResult{Model: res.Model, FellBack: res.FellBack, Points: len(res.Series)}, nil
}

func (s *Steps) putForecast(ctx context.Context, u Unit, series forecast.Series) error {
	if err := s.store.PutTable(ctx, store.Forecast(u.Entity, u.Category, u.Fuel), series.Table()); err != nil {
		return fmt.Errorf("failed to store forecast: %w", err)
	}
	return nil
}

// HasForecast reports whether the forecast artifact of u already exists
func (s *Steps) HasForecast(ctx context.Context, u Unit) bool {
	_, err := s.store.GetTable(ctx, store.Forecast(u.Entity, u.Category, u.Fuel))
	return err == nil
}

// Combine joins the individual forecasts of one (entity, category) into a
// single table, adds derived columns and the category total, then keeps only
// the category's output columns.
func (s *Steps) Combine(ctx context.Context, entity, category string) error {
	cat, ok := s.cfg.Category(category)
	if !ok {
		return fmt.Errorf("unknown category %s", category)
	}

	start := time.Now()
	series := make([]table.NamedSeries, 0, len(cat.Fuels))
	for _, f := range cat.Fuels {
		t, err := s.store.GetTable(ctx, store.Forecast(entity, category, f.Name))
		if errors.Is(err, store.ErrNotFound) {
			return &table.MissingInputError{Column: f.Name}
		}
		if err != nil {
			return fmt.Errorf("failed to load forecast %s/%s/%s: %w", entity, category, f.Name, err)
		}
		fc, err := forecast.FromTable(t)
		if err != nil {
			return err
		}
		series = append(series, table.NamedSeries{Name: f.Name, Dates: fc.Dates(), Values: fc.Values()})
	}

	combined, err := table.Combine(series)
	if err != nil {
		return fmt.Errorf("failed to combine %s/%s: %w", entity, category, err)
	}
	for _, rule := range cat.Derived {
		if err := table.Derive(combined, rule); err != nil {
			return err
		}
	}
	if cat.TotalColumn != "" {
		if err := table.WithTotal(combined, cat.TotalColumn, cat.ExcludedFromTotal()...); err != nil {
			return err
		}
	}
	// Helper and aggregate inputs only feed the derived columns and the total.
	combined, err = table.Select(combined, cat.OutputColumns())
	if err != nil {
		return err
	}

	if err := s.store.PutTable(ctx, store.Combined(entity, category), combined); err != nil {
		return fmt.Errorf("failed to store combined table: %w", err)
	}
	metrics.ObserveStage("combine", time.Since(start))
	s.logger.Debug("Combined forecasts", "entity", entity, "category", category, "columns", len(combined.Columns))
	return nil
}

// Emissions computes the total emissions and intensity tables of an entity
// from its combined tables.
func (s *Steps) Emissions(ctx context.Context, entity string) error {
	start := time.Now()
	combined := make(map[string]*table.Table, len(s.cfg.Categories))
	for _, cat := range s.cfg.Categories {
		t, err := s.store.GetTable(ctx, store.Combined(entity, cat.Name))
		if errors.Is(err, store.ErrNotFound) {
			return &table.MissingInputError{Column: cat.Name}
		}
		if err != nil {
			return fmt.Errorf("failed to load combined table %s/%s: %w", entity, cat.Name, err)
		}
		combined[cat.Name] = t
	}

	total, err := s.engine.TotalEmissions(combined)
	if err != nil {
		return fmt.Errorf("failed to compute emissions for %s: %w", entity, err)
	}
	intensity, err := s.engine.Intensity(total, combined[s.cfg.GenerationCategory])
	if err != nil {
		return fmt.Errorf("failed to compute intensity for %s: %w", entity, err)
	}

	if err := s.store.PutTable(ctx, store.Key{Stage: store.StageTotalEmissions, Entity: entity}, total); err != nil {
		return fmt.Errorf("failed to store total emissions: %w", err)
	}
	if err := s.store.PutTable(ctx, store.Key{Stage: store.StageIntensity, Entity: entity}, intensity); err != nil {
		return fmt.Errorf("failed to store emissions intensity: %w", err)
	}
	metrics.ObserveStage("emissions", time.Since(start))
	return nil
}

// CombineAll concatenates the per-entity generation, emissions and
// intensity tables in the given order and writes the workbook.
func (s *Steps) CombineAll(ctx context.Context, entities []string) error {
	if len(entities) == 0 {
		return fmt.Errorf("combine all: no entities")
	}
	start := time.Now()

	stages := []struct {
		source store.Stage
		target store.Stage
		sheet  string
	}{
		{store.StageCombined, store.StageAllGeneration, SheetGeneration},
		{store.StageTotalEmissions, store.StageAllTotal, SheetTotal},
		{store.StageIntensity, store.StageAllIntensity, SheetIntensity},
	}

	sheets := make([]table.Sheet, 0, len(stages))
	for _, st := range stages {
		perEntity := make(map[string]*table.Table, len(entities))
		for _, code := range entities {
			key := store.Key{Stage: st.source, Entity: code}
			if st.source == store.StageCombined {
				key.Category = s.cfg.GenerationCategory
			}
			t, err := s.store.GetTable(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", key, err)
			}
			perEntity[code] = t
		}
		all, err := emissions.CombineAllEntities(entities, perEntity)
		if err != nil {
			return err
		}
		if err := s.store.PutTable(ctx, store.Key{Stage: st.target}, all); err != nil {
			return fmt.Errorf("failed to store %s: %w", st.target, err)
		}
		sheets = append(sheets, table.Sheet{Name: st.sheet, Table: all})
	}

	var buf bytes.Buffer
	if err := table.WriteXLSX(&buf, sheets); err != nil {
		return fmt.Errorf("failed to render workbook: %w", err)
	}
	if err := s.store.PutBlob(ctx, store.Key{Stage: store.StageWorkbook}, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to store workbook: %w", err)
	}

	metrics.ObserveStage("combine_all", time.Since(start))
	s.logger.Info("Combined all entities", "entities", len(entities))
	return nil
}
