// Package store persists pipeline artifacts between stages. Every stage
// reads its inputs from the store and writes its output back, so a run can
// resume from the last completed stage.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

// ErrNotFound is returned when an artifact has not been written
var ErrNotFound = errors.New("artifact not found")

// Stage identifies the kind of artifact
type Stage string

const (
	StageRaw            Stage = "raw"
	StageCleaned        Stage = "cleaned"
	StageForecast       Stage = "forecast"
	StageCombined       Stage = "combined"
	StageTotalEmissions Stage = "total_emissions"
	StageIntensity      Stage = "intensity"
	StageAllGeneration  Stage = "all_generation"
	StageAllTotal       Stage = "all_total_emissions"
	StageAllIntensity   Stage = "all_intensity"
	StageWorkbook       Stage = "workbook"
	StageSummary        Stage = "summary"
)

// EntityLabel is the label column of all-entity tables
const EntityLabel = "state"

// Key addresses one artifact. Which fields are required depends on Stage.
type Key struct {
	Stage    Stage  `json:"stage"`
	Entity   string `json:"entity,omitempty"`
	Category string `json:"category,omitempty"`
	Fuel     string `json:"fuel,omitempty"`
}

func (k Key) String() string {
	s := string(k.Stage)
	for _, part := range []string{k.Entity, k.Category, k.Fuel} {
		if part != "" {
			s += "/" + part
		}
	}
	return s
}

// Validate checks that the fields the stage needs are set
func (k Key) Validate() error {
	need := func(entity, category, fuel bool) error {
		if entity && k.Entity == "" {
			return fmt.Errorf("key %s: entity is required", k)
		}
		if category && k.Category == "" {
			return fmt.Errorf("key %s: category is required", k)
		}
		if fuel && k.Fuel == "" {
			return fmt.Errorf("key %s: fuel is required", k)
		}
		return nil
	}
	switch k.Stage {
	case StageRaw, StageCleaned, StageForecast:
		return need(true, true, true)
	case StageCombined:
		return need(true, true, false)
	case StageTotalEmissions, StageIntensity:
		return need(true, false, false)
	case StageAllGeneration, StageAllTotal, StageAllIntensity, StageWorkbook, StageSummary:
		return nil
	default:
		return fmt.Errorf("unknown stage %q", k.Stage)
	}
}

// LabelName returns the label column carried by tables of this stage
func (k Key) LabelName() string {
	switch k.Stage {
	case StageAllGeneration, StageAllTotal, StageAllIntensity:
		return EntityLabel
	}
	return ""
}

// Store is implemented by the file, memory and SQLite backends. Blobs hold
// raw provider responses, the workbook and the run summary; every other
// stage is a table.
type Store interface {
	PutBlob(ctx context.Context, key Key, data []byte) error
	GetBlob(ctx context.Context, key Key) ([]byte, error)
	PutTable(ctx context.Context, key Key, t *table.Table) error
	GetTable(ctx context.Context, key Key) (*table.Table, error)
	Close() error
}

// Raw is a shorthand for the raw response key of a unit
func Raw(entity, category, fuel string) Key {
	return Key{Stage: StageRaw, Entity: entity, Category: category, Fuel: fuel}
}

// Cleaned is a shorthand for the imputed series key of a unit
func Cleaned(entity, category, fuel string) Key {
	return Key{Stage: StageCleaned, Entity: entity, Category: category, Fuel: fuel}
}

// Forecast is a shorthand for the individual forecast key of a unit
func Forecast(entity, category, fuel string) Key {
	return Key{Stage: StageForecast, Entity: entity, Category: category, Fuel: fuel}
}

// Combined is a shorthand for the combined table key
func Combined(entity, category string) Key {
	return Key{Stage: StageCombined, Entity: entity, Category: category}
}

// Open returns the backend named by kind: "file", "memory" or "sqlite"
func Open(kind, dataDir, sqlitePath string) (Store, error) {
	switch kind {
	case "file", "":
		return NewFileStore(dataDir)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}
