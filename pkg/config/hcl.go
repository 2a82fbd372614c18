package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/leowmjw/go-temporal-emissions/pkg/emissions"
	"github.com/leowmjw/go-temporal-emissions/pkg/forecast"
	"github.com/leowmjw/go-temporal-emissions/pkg/table"
	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

// APIKeyEnv is read when the pipeline file sets no api_key
const APIKeyEnv = "EIA_ACCESS_KEY"

//go:embed defaults/*
var defaultFiles embed.FS

// HCLPipeline is the top level of a pipeline file
type HCLPipeline struct {
	Window             *HCLWindow     `hcl:"window,block"`
	Horizon            *int           `hcl:"horizon,optional"`
	Model              *string        `hcl:"model,optional"`
	Fallback           *string        `hcl:"fallback,optional"`
	FitTimeout         *string        `hcl:"fit_timeout,optional"`
	Workers            *int           `hcl:"workers,optional"`
	Store              *string        `hcl:"store,optional"`
	DataDir            *string        `hcl:"data_dir,optional"`
	SQLitePath         *string        `hcl:"sqlite_path,optional"`
	GenerationCategory *string        `hcl:"generation_category,optional"`
	EmissionFuels      []string       `hcl:"emission_fuels,optional"`
	StatesFile         *string        `hcl:"states_file,optional"`
	FactorsFile        *string        `hcl:"factors_file,optional"`
	Ingest             *HCLIngest     `hcl:"ingest,block"`
	Entities           []HCLEntity    `hcl:"entity,block"`
	Categories         []HCLCategory  `hcl:"category,block"`
	Factors            []HCLFactorSet `hcl:"emission_factors,block"`
}

// HCLWindow is the quarter window, as ISO dates
type HCLWindow struct {
	Start string `hcl:"start"`
	End   string `hcl:"end"`
}

// HCLIngest configures the provider client
type HCLIngest struct {
	BaseURL *string `hcl:"base_url,optional"`
	APIKey  *string `hcl:"api_key,optional"`
	Timeout *string `hcl:"timeout,optional"`
	Retries *int    `hcl:"retries,optional"`
}

// HCLEntity declares one entity inline
type HCLEntity struct {
	Code string `hcl:"code,label"`
	Name string `hcl:"name"`
}

// HCLCategory declares a data category
type HCLCategory struct {
	Name           string                `hcl:"name,label"`
	Unit           *string               `hcl:"unit,optional"`
	EmissionsScale *float64              `hcl:"emissions_scale,optional"`
	TotalColumn    *string               `hcl:"total_column,optional"`
	Fuels          []HCLFuel             `hcl:"fuel,block"`
	Derived        []table.DerivedColumn `hcl:"derived,block"`
}

// HCLFuel declares a pulled series
type HCLFuel struct {
	Name      string `hcl:"name,label"`
	Series    string `hcl:"series"`
	Helper    *bool  `hcl:"helper,optional"`
	Aggregate *bool  `hcl:"aggregate,optional"`
}

// HCLFactorSet declares the emission factors of one category
type HCLFactorSet struct {
	Category string             `hcl:"category,label"`
	Factors  map[string]float64 `hcl:"factors"`
}

// Load reads a pipeline file. Relative states_file and factors_file paths
// resolve against the file's directory.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(src, path, os.DirFS(filepath.Dir(path)))
}

// Default returns the built-in configuration: every US state plus DC, the
// generation and fuel consumption categories and the bundled factors.
func Default() (*Config, error) {
	src, err := defaultFiles.ReadFile("defaults/pipeline.hcl")
	if err != nil {
		return nil, err
	}
	return Parse(src, "defaults/pipeline.hcl", defaultFiles)
}

// Parse decodes pipeline HCL. Sections the file leaves out fall back to the
// built-in defaults; files it references are opened from fsys.
func Parse(src []byte, filename string, fsys fs.FS) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	var p HCLPipeline
	diags = gohcl.DecodeBody(file.Body, evalContext(), &p)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL body: %s", diags.Error())
	}

	cfg := &Config{
		Window:             timeline.DefaultWindow,
		Horizon:            forecast.DefaultHorizon,
		Model:              forecast.DefaultModel,
		Fallback:           forecast.FallbackModel,
		FitTimeout:         30 * time.Second,
		Workers:            4,
		Store:              StoreFile,
		DataDir:            "data",
		GenerationCategory: "Net_Gen_By_Fuel_MWh",
		EmissionFuels:      append([]string(nil), emissions.DefaultFuels...),
		Ingest: Ingest{
			BaseURL: "https://api.eia.gov/series/",
			Timeout: 30 * time.Second,
			Retries: 3,
		},
	}

	if err := applyScalars(cfg, &p); err != nil {
		return nil, err
	}

	switch {
	case len(p.Entities) > 0:
		for _, e := range p.Entities {
			cfg.Entities = append(cfg.Entities, Entity{Code: e.Code, Name: e.Name})
		}
	case p.StatesFile != nil:
		entities, err := loadStatesFile(fsys, *p.StatesFile)
		if err != nil {
			return nil, err
		}
		cfg.Entities = entities
	default:
		entities, err := loadStatesFile(defaultFiles, "defaults/states.yml")
		if err != nil {
			return nil, err
		}
		cfg.Entities = entities
	}

	if len(p.Categories) > 0 {
		for _, c := range p.Categories {
			cfg.Categories = append(cfg.Categories, convertCategory(c))
		}
	} else {
		def, err := Default()
		if err != nil {
			return nil, err
		}
		cfg.Categories = def.Categories
	}

	switch {
	case len(p.Factors) > 0:
		cfg.Factors = make(emissions.FactorMap, len(p.Factors))
		for _, f := range p.Factors {
			cfg.Factors[f.Category] = f.Factors
		}
	case p.FactorsFile != nil:
		factors, err := loadFactorsFile(fsys, *p.FactorsFile)
		if err != nil {
			return nil, err
		}
		cfg.Factors = factors
	default:
		factors, err := loadFactorsFile(defaultFiles, "defaults/emissions_factors.yml")
		if err != nil {
			return nil, err
		}
		cfg.Factors = factors
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyScalars(cfg *Config, p *HCLPipeline) error {
	if p.Window != nil {
		window, err := timeline.ParseDateRange(p.Window.Start, p.Window.End)
		if err != nil {
			return err
		}
		cfg.Window = window
	}
	if p.Horizon != nil {
		cfg.Horizon = *p.Horizon
	}
	if p.Model != nil {
		cfg.Model = *p.Model
	}
	if p.Fallback != nil {
		cfg.Fallback = *p.Fallback
	}
	if p.FitTimeout != nil {
		d, err := time.ParseDuration(*p.FitTimeout)
		if err != nil {
			return fmt.Errorf("failed to parse fit_timeout: %w", err)
		}
		cfg.FitTimeout = d
	}
	if p.Workers != nil {
		cfg.Workers = *p.Workers
	}
	if p.Store != nil {
		cfg.Store = *p.Store
	}
	if p.DataDir != nil {
		cfg.DataDir = *p.DataDir
	}
	if p.SQLitePath != nil {
		cfg.SQLitePath = *p.SQLitePath
	}
	if p.GenerationCategory != nil {
		cfg.GenerationCategory = *p.GenerationCategory
	}
	if len(p.EmissionFuels) > 0 {
		cfg.EmissionFuels = p.EmissionFuels
	}

	cfg.Ingest.APIKey = os.Getenv(APIKeyEnv)
	if p.Ingest != nil {
		if p.Ingest.BaseURL != nil {
			cfg.Ingest.BaseURL = *p.Ingest.BaseURL
		}
		if p.Ingest.APIKey != nil && *p.Ingest.APIKey != "" {
			cfg.Ingest.APIKey = *p.Ingest.APIKey
		}
		if p.Ingest.Timeout != nil {
			d, err := time.ParseDuration(*p.Ingest.Timeout)
			if err != nil {
				return fmt.Errorf("failed to parse ingest timeout: %w", err)
			}
			cfg.Ingest.Timeout = d
		}
		if p.Ingest.Retries != nil {
			cfg.Ingest.Retries = *p.Ingest.Retries
		}
	}
	return nil
}

func convertCategory(c HCLCategory) Category {
	cat := Category{
		Name:           c.Name,
		Derived:        c.Derived,
		EmissionsScale: 1,
	}
	if c.Unit != nil {
		cat.Unit = *c.Unit
	}
	if c.EmissionsScale != nil {
		cat.EmissionsScale = *c.EmissionsScale
	}
	if c.TotalColumn != nil {
		cat.TotalColumn = *c.TotalColumn
	}
	for _, f := range c.Fuels {
		fuel := Fuel{Name: f.Name, Series: f.Series}
		if f.Helper != nil {
			fuel.Helper = *f.Helper
		}
		if f.Aggregate != nil {
			fuel.Aggregate = *f.Aggregate
		}
		cat.Fuels = append(cat.Fuels, fuel)
	}
	return cat
}

// evalContext exposes helper functions to pipeline files
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: map[string]function.Function{
			"env": function.New(&function.Spec{
				Params: []function.Parameter{
					{
						Name: "name",
						Type: cty.String,
					},
				},
				Type: function.StaticReturnType(cty.String),
				Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
					return cty.StringVal(os.Getenv(args[0].AsString())), nil
				},
			}),
			"upper": stdlib.UpperFunc,
			"lower": stdlib.LowerFunc,
		},
	}
}
