// Package config loads the pipeline configuration: the quarter window, the
// entity list, the data categories with their provider series, emission
// factors and process settings. It is built once at start-up and passed to
// every component.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leowmjw/go-temporal-emissions/pkg/emissions"
	"github.com/leowmjw/go-temporal-emissions/pkg/forecast"
	"github.com/leowmjw/go-temporal-emissions/pkg/table"
	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// Store backends
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Entity is a geographic unit. Code is the short key used in series IDs,
// storage paths and API routes.
type Entity struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Fuel is one provider series pulled for a category. Helper fuels only feed
// derived columns and aggregate fuels are pulled for reference; neither is
// summed into the category total.
type Fuel struct {
	Name      string `json:"name"`
	Series    string `json:"series"`
	Helper    bool   `json:"helper,omitempty"`
	Aggregate bool   `json:"aggregate,omitempty"`
}

// Category is a kind of measurement with its own fuel set
type Category struct {
	Name           string                `json:"name"`
	Unit           string                `json:"unit"`
	Fuels          []Fuel                `json:"fuels"`
	Derived        []table.DerivedColumn `json:"derived,omitempty"`
	TotalColumn    string                `json:"total_column,omitempty"`
	EmissionsScale float64               `json:"emissions_scale"`
}

// FuelNames returns every pulled fuel in configured order
func (c Category) FuelNames() []string {
	names := make([]string, len(c.Fuels))
	for i, f := range c.Fuels {
		names[i] = f.Name
	}
	return names
}

// OutputColumns returns the columns kept in the combined table: non-helper,
// non-aggregate fuels, then derived columns, then the total when configured.
func (c Category) OutputColumns() []string {
	var cols []string
	for _, f := range c.Fuels {
		if !f.Helper && !f.Aggregate {
			cols = append(cols, f.Name)
		}
	}
	for _, d := range c.Derived {
		cols = append(cols, d.Name)
	}
	if c.TotalColumn != "" {
		cols = append(cols, c.TotalColumn)
	}
	return cols
}

// ExcludedFromTotal lists the combined-table columns that are not summed
func (c Category) ExcludedFromTotal() []string {
	var cols []string
	for _, f := range c.Fuels {
		if f.Helper || f.Aggregate {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// Fuel returns the named fuel
func (c Category) Fuel(name string) (Fuel, bool) {
	for _, f := range c.Fuels {
		if f.Name == name {
			return f, true
		}
	}
	return Fuel{}, false
}

// SeriesID expands the fuel's series template for an entity
func (f Fuel) SeriesID(entityCode string) string {
	return strings.ReplaceAll(f.Series, "{}", entityCode)
}

// Ingest configures the provider client
type Ingest struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
	Retries int           `json:"retries"`
}

// Config is the complete, validated pipeline configuration
type Config struct {
	Window             timeline.DateRange  `json:"window"`
	Horizon            int                 `json:"horizon"`
	Model              string              `json:"model"`
	Fallback           string              `json:"fallback"`
	FitTimeout         time.Duration       `json:"fit_timeout"`
	Workers            int                 `json:"workers"`
	Store              string              `json:"store"`
	DataDir            string              `json:"data_dir"`
	SQLitePath         string              `json:"sqlite_path,omitempty"`
	GenerationCategory string              `json:"generation_category"`
	EmissionFuels      []string            `json:"emission_fuels"`
	Ingest             Ingest              `json:"ingest"`
	Entities           []Entity            `json:"entities"`
	Categories         []Category          `json:"categories"`
	Factors            emissions.FactorMap `json:"factors"`
}

// Entity returns the entity with the given code
func (c *Config) Entity(code string) (Entity, bool) {
	for _, e := range c.Entities {
		if e.Code == code {
			return e, true
		}
	}
	return Entity{}, false
}

// Category returns the named category
func (c *Config) Category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}

// EntityCodes returns entity codes in configured order
func (c *Config) EntityCodes() []string {
	codes := make([]string, len(c.Entities))
	for i, e := range c.Entities {
		codes[i] = e.Code
	}
	return codes
}

// Scales returns the per-category emissions unit scale
func (c *Config) Scales() map[string]float64 {
	scales := make(map[string]float64, len(c.Categories))
	for _, cat := range c.Categories {
		scales[cat.Name] = cat.EmissionsScale
	}
	return scales
}

// Engine builds the emissions engine for this configuration
func (c *Config) Engine() (*emissions.Engine, error) {
	return emissions.NewEngine(c.Factors, c.Scales(), c.EmissionFuels, c.GenerationCategory)
}

// Validate checks cross-references between the sections
func (c *Config) Validate() error {
	var errs []error

	if err := c.Window.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Horizon < 0 {
		errs = append(errs, fmt.Errorf("horizon must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1"))
	}
	if _, err := forecast.Lookup(c.Model); err != nil {
		errs = append(errs, err)
	}
	if c.Fallback != "" {
		if _, err := forecast.Lookup(c.Fallback); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Store {
	case StoreFile, StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("sqlite store needs sqlite_path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if len(c.Entities) == 0 {
		errs = append(errs, fmt.Errorf("no entities configured"))
	}
	seen := make(map[string]bool)
	for _, e := range c.Entities {
		if e.Code == "" {
			errs = append(errs, fmt.Errorf("entity %q has no code", e.Name))
		}
		if seen[e.Code] {
			errs = append(errs, fmt.Errorf("duplicate entity %s", e.Code))
		}
		seen[e.Code] = true
	}

	// Intensity divides by the generation total under the engine's column name.
	if gen, ok := c.Category(c.GenerationCategory); !ok {
		errs = append(errs, fmt.Errorf("generation category %q is not configured", c.GenerationCategory))
	} else if gen.TotalColumn != emissions.TotalColumn {
		errs = append(errs, fmt.Errorf("generation category %s must set total_column = %q", gen.Name, emissions.TotalColumn))
	}
	categories := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if categories[cat.Name] {
			errs = append(errs, fmt.Errorf("duplicate category %s", cat.Name))
		}
		categories[cat.Name] = true
		errs = append(errs, validateCategory(cat)...)
	}
	for category := range c.Factors {
		if _, ok := c.Category(category); !ok {
			errs = append(errs, fmt.Errorf("emission factors reference unknown category %s", category))
		}
	}
	if _, err := c.Engine(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateCategory(cat Category) []error {
	var errs []error
	if len(cat.Fuels) == 0 {
		errs = append(errs, fmt.Errorf("category %s has no fuels", cat.Name))
	}
	names := make(map[string]bool)
	for _, f := range cat.Fuels {
		if names[f.Name] {
			errs = append(errs, fmt.Errorf("category %s: duplicate fuel %s", cat.Name, f.Name))
		}
		names[f.Name] = true
		if !strings.Contains(f.Series, "{}") {
			errs = append(errs, fmt.Errorf("category %s fuel %s: series %q has no {} placeholder", cat.Name, f.Name, f.Series))
		}
	}
	for _, d := range cat.Derived {
		if names[d.Name] {
			errs = append(errs, fmt.Errorf("category %s: derived column %s shadows a fuel", cat.Name, d.Name))
		}
		for _, in := range append(append([]string(nil), d.Add...), d.Subtract...) {
			if !names[in] {
				errs = append(errs, fmt.Errorf("category %s: derived column %s needs unknown fuel %s", cat.Name, d.Name, in))
			}
		}
		names[d.Name] = true
	}
	return errs
}
