// Package emissions converts combined generation and fuel consumption
// tables into CO2e emissions and emissions intensity.
package emissions

import (
	"fmt"
	"math"
	"sort"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

// Column names produced by the engine
const (
	TotalColumn     = "all_sources"
	IntensityColumn = "emissions_intensity"
	EntityLabel     = "state"
)

// DefaultFuels is the canonical fuel column set of an emissions table
var DefaultFuels = []string{"coal", "natural_gas", "nuclear", "hydro", "wind", "solar_all", "other"}

// FactorMap maps category -> fuel -> CO2e per unit
type FactorMap map[string]map[string]float64

// Engine applies fixed emission factors. It holds no mutable state once
// built and is safe for concurrent use.
type Engine struct {
	Factors FactorMap
	// Scales converts each category's unit before the factor applies
	// (MWh -> GWh is 0.001). A missing entry means 1.
	Scales             map[string]float64
	Fuels              []string
	GenerationCategory string
}

// NewEngine validates factors against fuels and returns an engine
func NewEngine(factors FactorMap, scales map[string]float64, fuels []string, generationCategory string) (*Engine, error) {
	if len(fuels) == 0 {
		fuels = DefaultFuels
	}
	if generationCategory == "" {
		return nil, fmt.Errorf("generation category is required")
	}
	e := &Engine{
		Factors:            factors,
		Scales:             scales,
		Fuels:              append([]string(nil), fuels...),
		GenerationCategory: generationCategory,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate rejects factors for fuels outside the canonical set and
// non-finite factor values.
func (e *Engine) Validate() error {
	known := make(map[string]bool, len(e.Fuels))
	for _, f := range e.Fuels {
		known[f] = true
	}
	for _, category := range sortedKeys(e.Factors) {
		for fuel, factor := range e.Factors[category] {
			if !known[fuel] {
				return fmt.Errorf("emission factor %s.%s: fuel is not in the emissions fuel set", category, fuel)
			}
			if math.IsNaN(factor) || math.IsInf(factor, 0) {
				return fmt.Errorf("emission factor %s.%s is not finite", category, fuel)
			}
		}
	}
	return nil
}

func (e *Engine) scale(category string) float64 {
	if s, ok := e.Scales[category]; ok {
		return s
	}
	return 1
}

// TotalEmissions builds the per-fuel emissions table for one entity.
//
// The date index comes from the generation category. Every fuel column
// starts at zero and accumulates factor * scale * volume for each category
// that has both a factor and a column for that fuel. all_sources is the row
// sum of the fuel columns.
func (e *Engine) TotalEmissions(combined map[string]*table.Table) (*table.Table, error) {
	generation, ok := combined[e.GenerationCategory]
	if !ok || generation == nil {
		return nil, &table.MissingInputError{Column: e.GenerationCategory}
	}

	out := table.New(generation.Dates)
	acc := make(map[string][]float64, len(e.Fuels))
	for _, fuel := range e.Fuels {
		acc[fuel] = make([]float64, out.Len())
	}

	for _, category := range sortedKeys(combined) {
		t := combined[category]
		factors, ok := e.Factors[category]
		if !ok {
			continue
		}
		if idx := generation.SameIndex(t); idx >= 0 {
			return nil, &table.AlignmentError{Column: category, Index: idx}
		}
		mult := e.scale(category)
		for _, fuel := range e.Fuels {
			factor, ok := factors[fuel]
			if !ok {
				continue
			}
			values, ok := t.Column(fuel)
			if !ok {
				continue
			}
			for i, v := range values {
				acc[fuel][i] += factor * mult * v
			}
		}
	}

	for _, fuel := range e.Fuels {
		if err := out.Set(fuel, acc[fuel]); err != nil {
			return nil, err
		}
	}
	if err := table.WithTotal(out, TotalColumn); err != nil {
		return nil, err
	}
	return out, nil
}

// Intensity divides total emissions by total generation row by row. A zero
// generation total yields NaN.
func (e *Engine) Intensity(total, generation *table.Table) (*table.Table, error) {
	num, ok := total.Column(TotalColumn)
	if !ok {
		return nil, &table.MissingInputError{Column: TotalColumn}
	}
	den, ok := generation.Column(TotalColumn)
	if !ok {
		return nil, &table.MissingInputError{Column: TotalColumn}
	}
	if idx := total.SameIndex(generation); idx >= 0 {
		return nil, &table.AlignmentError{Column: TotalColumn, Index: idx}
	}

	ratio := make([]float64, len(num))
	for i := range num {
		if den[i] == 0 {
			ratio[i] = math.NaN()
			continue
		}
		ratio[i] = num[i] / den[i]
	}

	out := table.New(total.Dates)
	if err := out.Set(IntensityColumn, ratio); err != nil {
		return nil, err
	}
	return out, nil
}

// CombineAllEntities concatenates per-entity tables in the given order and
// labels each row with its entity code.
func CombineAllEntities(order []string, perEntity map[string]*table.Table) (*table.Table, error) {
	parts := make([]table.Labelled, 0, len(order))
	for _, code := range order {
		t, ok := perEntity[code]
		if !ok {
			return nil, fmt.Errorf("combine entities: no table for %s", code)
		}
		parts = append(parts, table.Labelled{Label: code, Table: t})
	}
	return table.Concat(parts, EntityLabel)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
