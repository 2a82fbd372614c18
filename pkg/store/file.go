package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

// FileStore keeps artifacts under a data directory using the reporting
// folder layout read by the dashboard.
type FileStore struct {
	root string
}

// NewFileStore creates the data directory if needed
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Path returns the file that holds key
func (s *FileStore) Path(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	const reporting = "06_reporting"
	var rel string
	switch key.Stage {
	case StageRaw:
		rel = filepath.Join("01_raw", key.Category, key.Entity, key.Category+"-"+key.Fuel+".json")
	case StageCleaned:
		rel = filepath.Join("02_intermediate", key.Category, key.Entity, key.Category+"-"+key.Fuel+".csv")
	case StageForecast:
		rel = filepath.Join(reporting, "Individual_Forecasts", key.Category, key.Entity, key.Category+"-"+key.Fuel+".csv")
	case StageCombined:
		rel = filepath.Join(reporting, "Combined_Forecasts", key.Entity, key.Category+"-Combined.csv")
	case StageTotalEmissions:
		rel = filepath.Join(reporting, "Emission_Forecasts", "Total_Emissions", key.Entity+"-CO2e-Emissions.csv")
	case StageIntensity:
		rel = filepath.Join(reporting, "Emission_Forecasts", "Emissions_Intensity", key.Entity+"-CO2e-Emissions-Intensity.csv")
	case StageAllGeneration:
		rel = filepath.Join(reporting, "Combined_Forecasts", "Combined-Electricity-Generation-All-States.csv")
	case StageAllTotal:
		rel = filepath.Join(reporting, "Emission_Forecasts", "Combined-CO2e-Total-Emissions.csv")
	case StageAllIntensity:
		rel = filepath.Join(reporting, "Emission_Forecasts", "Combined-CO2e-Emissions-Intensity.csv")
	case StageWorkbook:
		rel = filepath.Join(reporting, "Emission_Forecasts", "Emissions.xlsx")
	case StageSummary:
		rel = filepath.Join(reporting, "run-summary.json")
	}
	return filepath.Join(s.root, rel), nil
}

// PutBlob writes data atomically
func (s *FileStore) PutBlob(ctx context.Context, key Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// GetBlob reads the artifact for key
func (s *FileStore) GetBlob(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// PutTable writes t as CSV
func (s *FileStore) PutTable(ctx context.Context, key Key, t *table.Table) error {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, t); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.PutBlob(ctx, key, buf.Bytes())
}

// GetTable reads a CSV table
func (s *FileStore) GetTable(ctx context.Context, key Key) (*table.Table, error) {
	data, err := s.GetBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	t, err := table.ReadCSV(bytes.NewReader(data), key.LabelName())
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return t, nil
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
