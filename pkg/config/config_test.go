package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leowmjw/go-temporal-emissions/pkg/timeline"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, timeline.DefaultWindow, cfg.Window)
	assert.Equal(t, 84, cfg.Window.Quarters())
	assert.Equal(t, 12, cfg.Horizon)
	assert.Equal(t, "trend_seasonal", cfg.Model)
	assert.Equal(t, "naive", cfg.Fallback)
	assert.Equal(t, 30*time.Second, cfg.FitTimeout)
	assert.Equal(t, StoreFile, cfg.Store)

	require.Len(t, cfg.Entities, 51)
	assert.Equal(t, Entity{Code: "AL", Name: "Alabama"}, cfg.Entities[0])
	assert.Equal(t, Entity{Code: "WY", Name: "Wyoming"}, cfg.Entities[50])
	dc, ok := cfg.Entity("DC")
	require.True(t, ok)
	assert.Equal(t, "District of Columbia", dc.Name)

	gen, ok := cfg.Category("Net_Gen_By_Fuel_MWh")
	require.True(t, ok)
	assert.Equal(t, 0.001, gen.EmissionsScale)
	assert.Equal(t, "all_sources", gen.TotalColumn)
	assert.Equal(t,
		[]string{"coal", "natural_gas", "nuclear", "hydro", "wind", "solar_all", "other", "all_sources"},
		gen.OutputColumns())
	assert.Equal(t,
		[]string{"solar_utility", "other_renewables", "other_reported", "all_sources"},
		gen.ExcludedFromTotal())
	require.Len(t, gen.Derived, 1)
	assert.Equal(t, []string{"other_renewables", "other_reported"}, gen.Derived[0].Add)
	assert.Equal(t, []string{"wind", "solar_utility"}, gen.Derived[0].Subtract)

	coal, ok := gen.Fuel("coal")
	require.True(t, ok)
	assert.Equal(t, "ELEC.GEN.COW-AL-99.Q", coal.SeriesID("AL"))

	cons, ok := cfg.Category("Fuel_Consumption_BTU")
	require.True(t, ok)
	assert.Equal(t, []string{"coal", "natural_gas"}, cons.FuelNames())
	assert.Equal(t, 1.0, cons.EmissionsScale)

	assert.Equal(t, 95.52, cfg.Factors["Fuel_Consumption_BTU"]["coal"])
	assert.Equal(t, 0.012, cfg.Factors["Net_Gen_By_Fuel_MWh"]["nuclear"])

	_, err = cfg.Engine()
	require.NoError(t, err)
}

func TestParseInlineSections(t *testing.T) {
	t.Setenv("TEST_EIA_KEY", "secret")

	src := `
	window {
		start = "2019-01-01"
		end   = "2021-01-01"
	}
	horizon     = 4
	model       = "holt"
	fit_timeout = "2s"
	workers     = 2
	store       = "memory"

	ingest {
		api_key = env("TEST_EIA_KEY")
		retries = 1
	}

	entity "AL" {
		name = "Alabama"
	}
	entity "AK" {
		name = upper("alaska")
	}

	category "Net_Gen_By_Fuel_MWh" {
		unit            = "MWh"
		emissions_scale = 0.001
		total_column    = "all_sources"

		fuel "coal" {
			series = "ELEC.GEN.COW-{}-99.Q"
		}
		fuel "wind" {
			series = "ELEC.GEN.WND-{}-99.Q"
		}
	}

	emission_factors "Net_Gen_By_Fuel_MWh" {
		factors = {
			coal = 0.82
			wind = 0.011
		}
	}
	`

	cfg, err := Parse([]byte(src), "pipeline.hcl", fstest.MapFS{})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Window.Quarters())
	assert.Equal(t, 4, cfg.Horizon)
	assert.Equal(t, "holt", cfg.Model)
	assert.Equal(t, 2*time.Second, cfg.FitTimeout)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "secret", cfg.Ingest.APIKey)
	assert.Equal(t, 1, cfg.Ingest.Retries)
	assert.Equal(t, []string{"AL", "AK"}, cfg.EntityCodes())
	assert.Equal(t, "ALASKA", cfg.Entities[1].Name)
	assert.Len(t, cfg.Categories, 1)
	assert.Equal(t, 0.82, cfg.Factors["Net_Gen_By_Fuel_MWh"]["coal"])
}

func TestParseReferencedYAMLFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"states.yml":  {Data: []byte("Texas: TX\nOhio: OH\n")},
		"factors.yml": {Data: []byte("Net_Gen_By_Fuel_MWh:\n  nuclear: 0.5\n")},
	}
	src := `
	states_file  = "states.yml"
	factors_file = "factors.yml"
	`

	cfg, err := Parse([]byte(src), "pipeline.hcl", fsys)
	require.NoError(t, err)
	assert.Equal(t, []Entity{{Code: "TX", Name: "Texas"}, {Code: "OH", Name: "Ohio"}}, cfg.Entities)
	assert.Equal(t, 0.5, cfg.Factors["Net_Gen_By_Fuel_MWh"]["nuclear"])
	assert.Len(t, cfg.Categories, 2)
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "states.yml"), []byte("Utah: UT\n"), 0o644))
	path := filepath.Join(dir, "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`states_file = "states.yml"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"UT"}, cfg.EntityCodes())

	_, err = Load(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "syntax",
			src:     `window {`,
			wantErr: "failed to parse HCL",
		},
		{
			name:    "unknown model",
			src:     `model = "prophet"`,
			wantErr: "unknown forecast model",
		},
		{
			name:    "bad window",
			src:     "window {\n start = \"2021-01-01\"\n end = \"2020-01-01\"\n}",
			wantErr: "must be before",
		},
		{
			name:    "bad store",
			src:     `store = "s3"`,
			wantErr: "unknown store",
		},
		{
			name:    "sqlite without path",
			src:     `store = "sqlite"`,
			wantErr: "sqlite_path",
		},
		{
			name: "factor for unknown fuel",
			src: `
			emission_factors "Net_Gen_By_Fuel_MWh" {
				factors = { geothermal = 0.1 }
			}`,
			wantErr: "geothermal",
		},
		{
			name: "factor for unknown category",
			src: `
			emission_factors "Water_Use" {
				factors = { coal = 0.1 }
			}`,
			wantErr: "unknown category",
		},
		{
			name: "series without placeholder",
			src: `
			category "Net_Gen_By_Fuel_MWh" {
				fuel "coal" {
					series = "ELEC.GEN.COW-AL-99.Q"
				}
			}`,
			wantErr: "placeholder",
		},
		{
			name: "derived needs unknown fuel",
			src: `
			category "Net_Gen_By_Fuel_MWh" {
				fuel "coal" {
					series = "ELEC.GEN.COW-{}-99.Q"
				}
				derived "other" {
					add = ["other_renewables"]
				}
			}
			emission_factors "Net_Gen_By_Fuel_MWh" {
				factors = { coal = 1 }
			}`,
			wantErr: "unknown fuel other_renewables",
		},
		{
			name: "generation without total column",
			src: `
			category "Net_Gen_By_Fuel_MWh" {
				fuel "coal" {
					series = "ELEC.GEN.COW-{}-99.Q"
				}
			}
			emission_factors "Net_Gen_By_Fuel_MWh" {
				factors = { coal = 1 }
			}`,
			wantErr: `must set total_column = "all_sources"`,
		},
		{
			name: "generation total under another name",
			src: `
			category "Net_Gen_By_Fuel_MWh" {
				total_column = "total"
				fuel "coal" {
					series = "ELEC.GEN.COW-{}-99.Q"
				}
			}
			emission_factors "Net_Gen_By_Fuel_MWh" {
				factors = { coal = 1 }
			}`,
			wantErr: `must set total_column = "all_sources"`,
		},
		{
			name: "duplicate category",
			src: `
			category "Fuel_Consumption_BTU" {
				fuel "coal" {
					series = "ELEC.CONS_TOT_BTU.COW-{}-99.Q"
				}
			}
			category "Fuel_Consumption_BTU" {
				fuel "coal" {
					series = "ELEC.CONS_TOT_BTU.COW-{}-99.Q"
				}
			}`,
			wantErr: "duplicate category Fuel_Consumption_BTU",
		},
		{
			name: "duplicate entity",
			src: `
			entity "AL" {
				name = "Alabama"
			}
			entity "AL" {
				name = "Alabama again"
			}`,
			wantErr: "duplicate entity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "pipeline.hcl", fstest.MapFS{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseStates(t *testing.T) {
	entities, err := ParseStates(strings.NewReader("New York: NY\nAlabama: AL\n"))
	require.NoError(t, err)
	assert.Equal(t, []Entity{{Code: "NY", Name: "New York"}, {Code: "AL", Name: "Alabama"}}, entities)

	_, err = ParseStates(strings.NewReader("- AL\n- AK\n"))
	assert.Error(t, err)

	_, err = ParseStates(strings.NewReader("Alabama: [AL]\n"))
	assert.Error(t, err)
}
